package main

import "github.com/tmajic/go-dispatch-engine/services/gateway/cli"

func main() {
	cli.Execute()
}
