// Command datapipe streams training batches built from a text or CSV file, and manages the configuration saved in
// a model directory.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
