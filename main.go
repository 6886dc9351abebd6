package main

import "LnSPoll/cmd"

func main() {
	cmd.Execute()
}
