package main

import (
	"github.com/shawkym/matrixsync/cmd"
)

func main() {
	cmd.Execute()
}
