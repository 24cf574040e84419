// Package shell implements an interactive debug REPL over a running
// server's components, grounded on the teacher's cli/vm pattern: a
// readline instance feeding lines into an inner *cli.App that dispatches
// one subcommand per input line.
package shell

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/urfave/cli/v2"

	cliserver "github.com/privatestorage/zkapauthorizer/cli/server"
	"github.com/privatestorage/zkapauthorizer/cli/options"
)

var commands = []*cli.Command{
	{
		Name:      "stat",
		Usage:     "Show share sizes and lease expirations for a storage index",
		ArgsUsage: "STORAGE-INDEX-HEX",
		Action:    handleStat,
	},
	{
		Name:      "buckets",
		Usage:     "List the sharenums stored for a storage index",
		ArgsUsage: "STORAGE-INDEX-HEX",
		Action:    handleBuckets,
	},
	{
		Name:   "vouchers",
		Usage:  "List every voucher recorded in the store",
		Action: handleVouchers,
	},
	{
		Name:   "exit",
		Usage:  "Exit the debug shell",
		Action: func(c *cli.Context) error { return errExit },
	},
}

var errExit = errors.New("shell: exit requested")

// Shell wraps the running server Components in an interactive prompt.
type Shell struct {
	comps *cliserver.Components
	app   *cli.App
}

// New constructs a Shell over already-running Components.
func New(comps *cliserver.Components) *Shell {
	app := cli.NewApp()
	app.Name = "zkapauthorizer-shell"
	app.HelpName = ""
	app.UsageText = ""
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = commands
	app.Metadata = map[string]interface{}{"components": comps}
	return &Shell{comps: comps, app: app}
}

// NewCommands returns the "shell" command, which loads the configuration,
// builds the same Components `serve` would, and drops into the REPL
// against them in-process.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "shell",
			Usage:  "Open an interactive debug shell against a local configuration",
			Flags:  options.ConfigFlags,
			Action: runShell,
		},
	}
}

func runShell(ctx *cli.Context) error {
	cfg, err := options.LoadConfig(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	log, err := options.NewLogger(ctx, cfg.Logger)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer log.Sync() //nolint:errcheck

	comps, err := cliserver.Build(cfg, log)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer comps.Close()

	return New(comps).Run()
}

// Run waits for user input and executes the matching command until the
// user exits or sends EOF.
func (s *Shell) Run() error {
	l, err := readline.NewEx(&readline.Config{Prompt: "zkapauthorizer> "})
	if err != nil {
		return fmt.Errorf("shell: creating readline instance: %w", err)
	}
	defer l.Close()

	s.app.Writer = l.Stdout()
	s.app.ErrWriter = l.Stderr()

	for {
		line, err := l.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("shell: reading input: %w", err)
		}

		args, err := shellquote.Split(line)
		if err != nil || len(args) == 0 {
			if err != nil {
				fmt.Fprintln(s.app.ErrWriter, err)
			}
			continue
		}

		if runErr := s.app.Run(append([]string{"zkapauthorizer-shell"}, args...)); runErr != nil {
			if errors.Is(runErr, errExit) {
				return nil
			}
			fmt.Fprintln(s.app.ErrWriter, runErr)
		}
	}
}

func componentsFromContext(c *cli.Context) *cliserver.Components {
	return c.App.Metadata["components"].(*cliserver.Components)
}

func storageIndexArg(c *cli.Context) ([]byte, error) {
	if !c.Args().Present() {
		return nil, errors.New("STORAGE-INDEX-HEX is a required argument")
	}
	return hex.DecodeString(c.Args().First())
}

func handleStat(c *cli.Context) error {
	storageIndex, err := storageIndexArg(c)
	if err != nil {
		return err
	}
	comps := componentsFromContext(c)
	results, err := comps.Shares.StatShares(c.Context, [][]byte{storageIndex})
	if err != nil {
		return err
	}
	for sharenum, stat := range results[0].Shares {
		fmt.Fprintf(c.App.Writer, "share %d: size=%d leaseExpiration=%d\n", sharenum, stat.Size, stat.LeaseExpiration)
	}
	return nil
}

func handleBuckets(c *cli.Context) error {
	storageIndex, err := storageIndexArg(c)
	if err != nil {
		return err
	}
	comps := componentsFromContext(c)
	sharenums, err := comps.Shares.GetBuckets(c.Context, storageIndex)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, sharenums)
	return nil
}

func handleVouchers(c *cli.Context) error {
	comps := componentsFromContext(c)
	vouchers, err := comps.Store.List(c.Context)
	if err != nil {
		return err
	}
	for _, v := range vouchers {
		fmt.Fprintf(c.App.Writer, "%s created=%s\n", v.Number, v.Created)
	}
	return nil
}
