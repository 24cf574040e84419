// Command zkapauthorizer runs the pass-based authorization layer: the
// storage-server admission process, voucher management, and a debug
// shell, selected by subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/privatestorage/zkapauthorizer/cli/app"
)

func main() {
	ctl := app.New()
	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
