package main

import (
	"fmt"
	"os"
)

// version is stamped with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err.Error()))
		os.Exit(1)
	}
}
