// ./main.go
package main

import (
	"github.com/webpilot-ai/webpilot/cmd"
)

// main is the entry point for the webpilot application. All command-line
// parsing, configuration, and execution lives in the cmd package.
func main() {
	cmd.Execute()
}
