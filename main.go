// The main package for the papertrawl executable.
package main

import (
	"github.com/papertrawl/papertrawl/cmd"
)

func main() {
	cmd.Execute()
}
