package main

import "github.com/volcanicminds/volcanic-backend/cmd"

func main() {
	cmd.Execute()
}
