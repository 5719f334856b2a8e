// The main package for the harvester executable.
package main

import (
	"github.com/scotusdata/harvester/cmd"
)

func main() {
	cmd.Execute()
}
