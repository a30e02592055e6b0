package main

import "github.com/nimburion/txcoord/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "txcoord",
		Description: "Transaction coordination probe and configuration tool",
	}))
}
