// Command rotor is the operational toolbox around the marketplace state:
// state migration, offline export production and verification, and key
// manifest management.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Split out so tests can drive the CLI with
// captured streams.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "migrate-json-state-to-sqlite":
		return runMigrateCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "keys":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: rotor keys <list|rotate|revoke> [flags]")
			return 2
		}
		return runKeysCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `rotor - marketplace runtime toolbox

Usage:
  rotor migrate-json-state-to-sqlite [--from-state-file P] [--to-state-file P] [--force]
  rotor verify --export FILE [--public-key PEM --key-id ID | --keys MANIFEST]
  rotor export --state FILE --keys MANIFEST --kind KIND [--limit N] [--out FILE]
  rotor keys <list|rotate|revoke> --keys MANIFEST [--key-id ID]
  rotor help

Exit codes: 0 success, 1 operation failed, 2 usage or runtime error.
`)
}
