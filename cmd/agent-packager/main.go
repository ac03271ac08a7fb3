package main

import "github.com/oshokin/agent-updater/cmd/agent-packager/cmd"

func main() {
	cmd.Execute()
}
