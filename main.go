package main

import "github.com/adsamcik/riposte-index/cmd"

func main() {
	cmd.Execute()
}
