package main

import "github.com/openpaisa/paisad/internal/cli"

func main() {
	cli.Execute()
}
