//go:build !(tamago && amd64)

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "recovery is a UEFI application: build it with GOOS=tamago GOARCH=amd64")
	os.Exit(2)
}
