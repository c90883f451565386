package main

import (
	"os"

	"auditum/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
