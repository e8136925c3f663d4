package main

import "github.com/studiolink/smshub/cmd"

func main() {
	cmd.Execute()
}
