// The main package for the hidden-spot executable.
package main

import (
	"github.com/JakeFAU/hidden-spot/cmd"
)

func main() {
	cmd.Execute()
}
