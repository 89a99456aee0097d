package main

import "github.com/nvr-ai/go-lanekeeper/cmd"

func main() {
	cmd.Execute()
}
