// The main package for the starcrawler executable.
package main

import (
	"github.com/JakeFAU/github-star-crawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
