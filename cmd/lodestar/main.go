// Command lodestar is the CLI adapter over the coordination engine
// (spec.md §6.4): one subcommand per stable operation name, a uniform
// --json/--schema/--explain flag set, and the closed exit-code set
// 0/1/2/3.
package main

import "os"

func main() {
	os.Exit(Execute())
}
