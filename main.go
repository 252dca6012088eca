package main

import "matricula-sync/cmd"

func main() {
	cmd.Execute()
}
