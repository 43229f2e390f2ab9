// Command profilerag answers questions about a single profile document by
// retrieving the most relevant passages and, optionally, generating a grounded
// answer from them. It provides a CLI (via Cobra) and an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/profilerag-go/cmd/profilerag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
