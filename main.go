package main

import "github.com/tau-run/tau/cmd"

func main() {
	cmd.Execute()
}
