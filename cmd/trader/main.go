package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"tinkoff-trader/internal/cli"
)

func main() {
	// A .env file in the working directory may carry TINKOFF_TOKEN.
	_ = godotenv.Load()

	if err := cli.NewRootCmd(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
