package main

import (
	"os"

	"codestreak/cmd/codestreak/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
