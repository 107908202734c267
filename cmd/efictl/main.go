// Command efictl decodes the values goefi programs print: status codes,
// GUIDs and protocol names.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
