package main

import (
	"os"

	"stagehand/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
