// Package main runs the resource-management simulator.
package main

import "github.com/sarchlab/ossim/ossim/cmd"

func main() {
	cmd.Execute()
}
