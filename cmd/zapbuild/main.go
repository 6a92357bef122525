package main

import (
	"os"

	"github.com/zapbuilder/zapbuild/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
