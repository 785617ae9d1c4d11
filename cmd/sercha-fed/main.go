// Command sercha-fed syncs many data sources into one index and searches
// across them.
package main

import "github.com/custodia-labs/sercha-federation/internal/adapters/driving/cli"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetLoader(load)
	cli.Execute()
}
