package main

import (
	"fmt"
	"os"

	"github.com/cuongbtq/jobq/internal/jobqctl"
)

func main() {
	if err := jobqctl.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
