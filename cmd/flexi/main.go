// Package main provides the flexi CLI.
package main

import "github.com/mesh-intelligence/flexi/internal/cli"

func main() {
	cli.Execute()
}
