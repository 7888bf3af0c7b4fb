package main

import "github.com/cha777/pro11-push-update-server/cmd/release-server/cmd"

func main() {
	cmd.Execute()
}
