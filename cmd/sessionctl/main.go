package main

import "github.com/tribeat/server/internal/cli"

func main() {
	cli.Execute()
}
