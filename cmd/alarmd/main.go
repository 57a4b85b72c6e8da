package main

import "github.com/oshokin/alarmd/cmd/alarmd/cmd"

func main() {
	cmd.Execute()
}
