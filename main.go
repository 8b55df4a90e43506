package main

import "github.com/twiced-technology-gmbh/taskvault/cmd"

func main() {
	cmd.Execute()
}
