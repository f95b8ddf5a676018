package main

import "github.com/bryanchriswhite/duckypad-daemon/cmd/duckypad-daemon/commands"

func main() {
	commands.Execute()
}
