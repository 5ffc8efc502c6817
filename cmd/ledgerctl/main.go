package main

import (
	"fmt"
	"os"

	"github.com/studiobook/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(cli.Open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
