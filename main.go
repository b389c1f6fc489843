package main

import (
	"Tidelink/cmd"
)

func main() {
	cmd.Execute()
}
