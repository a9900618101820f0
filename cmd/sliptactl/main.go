// Command sliptactl drives the SLIPTA audit service from the shell.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApplication(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
