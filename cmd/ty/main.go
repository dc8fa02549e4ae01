// Command ty manages a fleet of USB-attached Teensy boards: discovery,
// capability inspection, and firmware upload.
package main

import "github.com/tytools/tytools/cmd/ty/cmd"

func main() {
	cmd.Execute()
}
