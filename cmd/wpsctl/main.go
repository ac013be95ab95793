// Command wpsctl is an operator tool for the WPS open platform security
// primitives: signing outbound requests, checking captured callbacks and
// producing test envelopes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
