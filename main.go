// The main package for the politefetch executable.
package main

import (
	"github.com/JakeFAU/politefetch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
