// Package main provides the coremqtt command line client.
//
// Usage:
//
//	coremqtt [flags] <command> [args]
//
// Commands:
//
//	pub - publish a message
//	sub - subscribe to topic filters and print incoming messages
//
// Configuration:
//
//	Connection settings may be read from a YAML file passed with --config.
//	Flags override values from the file.
package main

import (
	"fmt"
	"os"

	"github.com/vitalvas/coremqtt/cmd/coremqtt/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
