package main

import (
	"os"

	"github.com/telhawk-systems/assetsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
