package main

import "github.com/polarsignals/tsflow/cmd/tsflow/cmd"

func main() {
	cmd.Execute()
}
