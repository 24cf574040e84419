// Package app assembles the zkapauthorizer binary's [cli.App] from its
// command groups, following the teacher's cli/app pattern.
package app

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/privatestorage/zkapauthorizer/cli/options"
	"github.com/privatestorage/zkapauthorizer/cli/server"
	"github.com/privatestorage/zkapauthorizer/cli/shell"
	"github.com/privatestorage/zkapauthorizer/cli/voucher"
)

// Version is the binary's version string, set at build time via
// -ldflags.
var Version = "dev"

// New creates a zkapauthorizer instance of [cli.App] with all commands
// included.
func New() *cli.App {
	cli.VersionPrinter = options.VersionPrinter
	ctl := cli.NewApp()
	ctl.Name = "zkapauthorizer"
	ctl.Version = Version
	ctl.Usage = "Pass-based authorization layer for a distributed object-store protocol"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	ctl.Commands = append(ctl.Commands, voucher.NewCommands()...)
	ctl.Commands = append(ctl.Commands, shell.NewCommands()...)
	return ctl
}
