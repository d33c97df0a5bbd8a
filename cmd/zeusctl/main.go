// Package main provides the Zeus operator CLI.
//
// Usage:
//
//	zeusctl [flags] <command> [args]
//
// Commands:
//
//	chat        - talk to the assistant from a terminal (text in, console speech out)
//	transcript  - print the stored transcript of a session
//
// Configuration is read from the environment (and .env) exactly like the server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
