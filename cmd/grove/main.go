package main

import (
	"fmt"
	"os"

	"github.com/teranos/grove/cmd/grove/commands"
	"github.com/teranos/grove/errors"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
