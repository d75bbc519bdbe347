package main

import (
	"os"

	"nexus/cmd/nexus/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil))
}
