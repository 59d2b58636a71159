package main

import "vulnscope/internal/cli"

func main() {
	cli.Execute()
}
