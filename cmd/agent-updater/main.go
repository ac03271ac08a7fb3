package main

import "github.com/oshokin/agent-updater/cmd/agent-updater/cmd"

func main() {
	cmd.Execute()
}
