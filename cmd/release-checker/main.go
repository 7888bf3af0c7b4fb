package main

import "github.com/cha777/pro11-push-update-server/cmd/release-checker/cmd"

func main() {
	cmd.Execute()
}
