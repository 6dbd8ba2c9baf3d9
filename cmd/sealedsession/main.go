package main

import "github.com/jmcleod/sealedsession/cmd/sealedsession/cmd"

func main() {
	cmd.Execute()
}
