package main

import "ipguard/internal/cli"

func main() {
	cli.Execute()
}
