// Package main provides the entry point for the regscope CLI.
package main

import (
	"os"

	"github.com/regscope/regscope/cmd/regscope/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
