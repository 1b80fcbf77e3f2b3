package main

import "github.com/groupgate/groupgate/cmd/groupgate/cmd"

func main() {
	cmd.Execute()
}
