package main

import (
	"os"

	"github.com/treliq/treliq/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
