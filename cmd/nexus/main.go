// Command nexus runs the registry merge pipeline and packs its artifacts.
package main

import "github.com/hupe1980/nexus/internal/cli"

func main() {
	cli.Execute()
}
