package main

import (
	"os"

	"github.com/maplestoria/redis-event/internal/cli"
)

func main() {
	code := cli.Execute(os.Args[1:])
	os.Exit(code)
}
