package main

import "github.com/felixgeelhaar/jarvis/cmd/jarvis/cli"

func main() {
	cli.Execute()
}
