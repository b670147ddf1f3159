package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// Exitf writes a formatted message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(stderr, format+"\n", args...)
	exit(1)
}

// ExitOnError exits when err is non-nil. A -help request exits 0 since the
// flag package has already printed usage.
func ExitOnError(action string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		exit(0)
		return
	}
	Exitf("%s: %v", action, err)
}
