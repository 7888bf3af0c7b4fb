package main

import "github.com/cha777/pro11-push-update-server/cmd/release-packager/cmd"

func main() {
	cmd.Execute()
}
