package main

import "ngescape/cmd"

func main() {
	cmd.Execute()
}
