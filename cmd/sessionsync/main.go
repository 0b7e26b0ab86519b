package main

import "github.com/jmcleod/sessionsync/cmd/sessionsync/cmd"

func main() {
	cmd.Execute()
}
