package main

import (
	"github.com/mrsadri/xRate/internal/cli"
)

func main() {
	cli.Execute()
}
