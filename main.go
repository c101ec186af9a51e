// The main package for the storefront-crawler executable.
package main

import (
	"github.com/JakeFAU/storefront-crawler/cmd"
)

func main() {
	cmd.Execute()
}
