// The main package for the vinmonopol-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/vinmonopol-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
