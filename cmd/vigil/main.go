package main

import (
	"os"

	"vigil/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
