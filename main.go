package main

import "github.com/tanq16/pwrsync/cmd"

func main() {
	cmd.Execute()
}
