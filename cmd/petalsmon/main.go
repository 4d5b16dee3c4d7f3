package main

import (
	"os"

	"petalsmon/internal/cli"
)

func main() { os.Exit(cli.Main()) }
