package main

import (
	"log"
	"os"

	"github.com/perfgo/kboot/cli"
)

// Version information, set via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes reported by the kernel are passed through by the app itself;
// any other error ends the runner with status 1.
func main() {
	app := cli.New()
	app.SetVersion(version, commit, date)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
