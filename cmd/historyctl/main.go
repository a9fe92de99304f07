// Command historyctl inspects and maintains the connection history ledger.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openContainer, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
