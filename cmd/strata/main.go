// Package main is the entrypoint for the strata build orchestrator CLI.
//
// Backend packages register themselves via blank import from an init(), so
// a binary's backend set is fixed at compile time (§9 "Plugin loading →
// configuration-driven registration"). This binary ships none by default;
// a deployment adds its own backends with a blank import here.
package main

import (
	"github.com/stratabuild/strata/cmd/strata/app"
)

func main() {
	app.Execute()
}
