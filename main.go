// The main package for the ledger-batch executable.
package main

import (
	"github.com/JakeFAU/ledger-batch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
