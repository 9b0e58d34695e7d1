// Command streamloaderctl is a demo harness for the stream loader core:
// it drives AudioFile.Open/Read/Seek and the StreamLoaderController
// against a FakeSession backed by a local file, for manual testing and
// benchmarking without a real network-backed Session.
package main

import (
	"fmt"
	"os"

	"github.com/javi11/streamloader/cmd/streamloaderctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
