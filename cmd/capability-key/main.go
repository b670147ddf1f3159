// Package main provides a one-shot utility for capability signing key
// generation.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/reviewdesk/internal/platform/config"
	"github.com/louisbranch/reviewdesk/internal/tools/capabilitykey"
)

func main() {
	cfg, err := capabilitykey.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)
	config.ExitOnError("generate capability key", capabilitykey.Run(cfg, os.Stdout, nil))
}
