// Command termmap resolves NAMASTE codes to ICD-11 targets from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "termmap: %v\n", err)
		os.Exit(1)
	}
}
