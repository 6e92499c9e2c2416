package main

import "github.com/liveloop/loopjam/cmd/jam/cmd"

func main() {
	cmd.Execute()
}
