package main

import (
	"ocpdeployer/cmd"
)

func main() {
	cmd.Execute()
}
