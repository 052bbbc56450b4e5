// Command quire manages a versioned specification corpus.
package main

import "github.com/mesh-intelligence/quire/internal/cli"

func main() {
	cli.Execute()
}
