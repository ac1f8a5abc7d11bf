package main

import "github.com/tmajic/go-dispatch-engine/services/trigger/cli"

func main() {
	cli.Execute()
}
