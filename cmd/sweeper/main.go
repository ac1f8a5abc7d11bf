package main

import "github.com/tmajic/go-dispatch-engine/services/sweeper/cli"

func main() {
	cli.Execute()
}
