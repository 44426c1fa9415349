package main

import (
	"os"

	"github.com/oh-yeah-sea-kit2/slamp/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args))
}
