package main

import "github.com/tsawler/go-checkpoint/cmd"

func main() {
	cmd.Execute()
}
