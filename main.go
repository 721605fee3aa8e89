package main

import (
	"fmt"
	"os"

	"github.com/phillip-england/nutrisurvey/internal/nutrisurveycli"
)

func main() {
	if err := nutrisurveycli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
