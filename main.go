package main

import "github.com/mailsteward/mailsteward/cmd"

var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
