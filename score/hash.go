package score

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// hashTimeLayout fixes the textual form of startedAt fed into session hashes.
const hashTimeLayout = "2006-01-02T15:04:05.000Z"

// Hasher derives the integrity hash a client attaches to a session.
type Hasher interface {
	Hash(sessionID string, startedAt time.Time) string
}

// RollingHasher is the legacy 31-multiplier rolling hash over
// sessionID+startedAt, wrapped to int32 and rendered in base 36. Anyone who
// knows the algorithm can forge it.
type RollingHasher struct{}

// Hash implements Hasher.
func (RollingHasher) Hash(sessionID string, startedAt time.Time) string {
	var h int32
	for _, r := range sessionID + startedAt.UTC().Format(hashTimeLayout) {
		h = 31*h + int32(r)
	}
	return strconv.FormatInt(int64(h), 36)
}

// HMACHasher keys the session hash with a server-held secret.
type HMACHasher struct {
	secret []byte
}

// NewHMACHasher creates a keyed hasher.
func NewHMACHasher(secret string) HMACHasher {
	return HMACHasher{secret: []byte(secret)}
}

// Hash implements Hasher.
func (h HMACHasher) Hash(sessionID string, startedAt time.Time) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(startedAt.UTC().Format(hashTimeLayout)))
	return hex.EncodeToString(mac.Sum(nil))
}

// HasherFor picks the HMAC hasher when secret is set, the rolling hash otherwise.
func HasherFor(secret string) Hasher {
	if secret == "" {
		return RollingHasher{}
	}
	return NewHMACHasher(secret)
}
