// Command lwrepl applies replicated directory changes to a local replica.
package main

import (
	"os"

	"github.com/Mlorras/lightwave/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
