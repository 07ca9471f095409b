package main

import "github.com/felixgeelhaar/graphfusion/cmd/graphfusion/cli"

func main() {
	cli.Execute()
}
