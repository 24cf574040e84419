// Package voucher implements the "voucher" command group: recording new
// vouchers and inspecting their redemption state. Redemption itself
// (ticketing a voucher's random tokens into unblinded tokens) is a
// redemption-service concern invoked by the store, not performed here.
package voucher

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"

	"github.com/privatestorage/zkapauthorizer/cli/options"
	"github.com/privatestorage/zkapauthorizer/pkg/store"
	"github.com/privatestorage/zkapauthorizer/pkg/voucher"
)

var numTokens = &cli.IntFlag{
	Name:  "num-tokens",
	Usage: "Number of random tokens to generate for this voucher",
	Value: 100,
}

// NewCommands returns the "voucher" command group.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "voucher",
			Usage: "Manage vouchers",
			Subcommands: []*cli.Command{
				{
					Name:      "add",
					Usage:     "Record a new voucher and generate its random tokens",
					ArgsUsage: "NUMBER",
					Flags:     append(append([]cli.Flag{}, options.ConfigFlags...), numTokens),
					Action:    add,
				},
				{
					Name:      "get",
					Usage:     "Show a single voucher's state",
					ArgsUsage: "NUMBER",
					Flags:     options.ConfigFlags,
					Action:    get,
				},
				{
					Name:   "list",
					Usage:  "List every voucher",
					Flags:  options.ConfigFlags,
					Action: list,
				},
			},
		},
	}
}

func openStore(ctx *cli.Context) (*store.Store, error) {
	cfg, err := options.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Path, nil)
}

func randomToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("voucher: generating random token: %w", err)
	}
	return base58.Encode(raw), nil
}

func add(ctx *cli.Context) error {
	number := ctx.Args().First()
	if number == "" {
		return cli.Exit("voucher add: NUMBER is required", 1)
	}

	s, err := openStore(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer s.Close()

	count := ctx.Int(numTokens.Name)
	tokens := make([]string, count)
	for i := range tokens {
		token, err := randomToken()
		if err != nil {
			return cli.Exit(err, 1)
		}
		tokens[i] = token
	}

	if err := s.Add(ctx.Context, number, tokens); err != nil {
		return cli.Exit(err, 1)
	}
	_, _ = fmt.Fprintf(ctx.App.Writer, "recorded voucher %s with %d random tokens\n", number, count)
	return nil
}

func get(ctx *cli.Context) error {
	number := ctx.Args().First()
	if number == "" {
		return cli.Exit("voucher get: NUMBER is required", 1)
	}

	s, err := openStore(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer s.Close()

	v, err := s.Get(ctx.Context, number)
	if err != nil {
		return cli.Exit(err, 1)
	}
	printVoucher(ctx, v)
	return nil
}

func list(ctx *cli.Context) error {
	s, err := openStore(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer s.Close()

	vouchers, err := s.List(ctx.Context)
	if err != nil {
		return cli.Exit(err, 1)
	}
	for _, v := range vouchers {
		printVoucher(ctx, v)
	}
	return nil
}

func printVoucher(ctx *cli.Context, v voucher.Voucher) {
	state := "pending"
	switch s := v.State.(type) {
	case voucher.Redeemed:
		state = fmt.Sprintf("redeemed finished=%s tokens=%d", s.Finished.Format("2006-01-02T15:04:05Z07:00"), s.TokenCount)
	case voucher.DoubleSpend:
		state = fmt.Sprintf("double-spend finished=%s", s.Finished.Format("2006-01-02T15:04:05Z07:00"))
	}
	_, _ = fmt.Fprintf(ctx.App.Writer, "%s  created=%s  %s\n", v.Number, v.Created.Format("2006-01-02T15:04:05Z07:00"), state)
}
