package main

import "dealsignal/internal/cli"

func main() {
	cli.Execute()
}
