// firmament synchronizes a directory tree across backends and runs as a
// long-lived daemon via its "server" subcommand, or inspects a checkout's
// datastores via "debug".
package main

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&serverCmd{}, "")
	subcommands.Register(&debugCmd{}, "")
	flag.Parse()

	ctx := context.Background()
	exitValue := subcommands.Execute(ctx)
	glog.Flush()
	os.Exit(int(exitValue))
}
