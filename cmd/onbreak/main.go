package main

import (
	"os"

	"github.com/go-delve/onbreak/cmd/onbreak/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
