package main

import (
	"fmt"
	"os"

	"github.com/openfaktur/einvoice/cmd/einvoice/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
