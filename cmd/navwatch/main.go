package main

import "navwatch/internal/cli"

func main() {
	cli.Execute()
}
