package main

import (
	"os"

	"github.com/ftahirops/xmem/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
