package main

import (
	"os"

	"newapi-checkin/cmd/devtool/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
