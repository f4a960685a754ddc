// Command llhls is a low-latency HLS client: it fetches live media
// segments for a channel and streams them to a player, a file, or a TCP
// broadcast socket.
package main

import (
	"os"

	"github.com/llhls/client/cmd/llhls/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
