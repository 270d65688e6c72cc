package main

import (
	"fmt"

	"github.com/any-hub/throttlecache/internal/version"
)

func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "user-agent: %s\n", version.UserAgent())
}
