package main

import (
	"os"

	"newapi-checkin/cmd/checkin/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
