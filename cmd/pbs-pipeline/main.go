package main

import (
	"github.com/turing-trading/tt-flashbots-worktest/cmd"
)

func main() {
	cmd.Execute()
}
