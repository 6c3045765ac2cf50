// Command doorbell runs one wake cycle of the wireless doorbell controller.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
