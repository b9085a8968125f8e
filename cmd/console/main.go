// Command console drives an engine from the command line and logs every
// notification as it happens.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
