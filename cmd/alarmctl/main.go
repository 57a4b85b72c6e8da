package main

import "github.com/oshokin/alarmd/cmd/alarmctl/cmd"

func main() {
	cmd.Execute()
}
