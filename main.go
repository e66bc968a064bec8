package main

import "chatwrap/cmd"

const Version = "v0.01.00"

func main() {
	cmd.Execute(Version)
}
