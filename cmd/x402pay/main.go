package main

import (
	"os"

	"github.com/vitwit/x402pay/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
