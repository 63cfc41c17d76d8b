// Command mockclient is a development client for the relay: it prints tokens
// and plays the web or app side of a pairing from the terminal.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
