package main

import "github.com/forPelevin/vibecut/internal/cli"

func main() {
	cli.Main()
}
