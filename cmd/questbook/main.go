// Command questbook is the questbook CLI.
package main

import "github.com/mesh-intelligence/questbook/internal/cli"

func main() {
	cli.Execute()
}
