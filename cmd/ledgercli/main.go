package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/urfave/cli"

	"github.com/fedcoord/fedledger/cmd/ledgercli/client"
	"github.com/fedcoord/fedledger/ledger"
)

func newClient(cCtx *cli.Context) (*client.HTTPLedgerClient, error) {
	return client.NewHTTPLedgerClient(
		cCtx.GlobalString("address"),
		client.WithIdentity(cCtx.GlobalString("identity")),
		client.WithRetries(cCtx.GlobalInt("retries")),
	)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUint(text, what string) (uint64, error) {
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", what, text, err)
	}
	return v, nil
}

// withClient runs fn with a client built from the global flags.
func withClient(fn func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		cl, err := newClient(cCtx)
		if err != nil {
			return err
		}
		return fn(context.Background(), cCtx, cl)
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "ledgercli"
	app.Usage = "talk to a federated learning incentive ledger over REST"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "address, a",
			Value:  "http://localhost:8180",
			Usage:  "REST address of the ledger daemon",
			EnvVar: "LEDGER_ADDRESS",
		},
		cli.StringFlag{
			Name:   "identity, i",
			Usage:  "base58 identity to act as",
			EnvVar: "LEDGER_IDENTITY",
		},
		cli.IntFlag{
			Name:  "retries",
			Value: 3,
			Usage: "how many times a failed request is retried",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "identity",
			Usage:     "print the base58 identity for a raw name",
			ArgsUsage: "<name>",
			Action: func(cCtx *cli.Context) error {
				if cCtx.Args().First() == "" {
					return cli.NewExitError("name is required", 1)
				}
				fmt.Println(ledger.Identity(cCtx.Args().First()).String())
				return nil
			},
		},
		{
			Name:  "info",
			Usage: "show the ledger status",
			Action: withClient(func(ctx context.Context, _ *cli.Context, cl *client.HTTPLedgerClient) error {
				info, err := cl.Info(ctx)
				if err != nil {
					return err
				}
				return printJSON(info)
			}),
		},
		{
			Name:      "register",
			Usage:     "register the identity as a participant",
			ArgsUsage: "<stake>",
			Action: withClient(func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error {
				stake, err := parseUint(cCtx.Args().First(), "stake")
				if err != nil {
					return err
				}
				if err := cl.Register(ctx, stake); err != nil {
					return err
				}
				fmt.Printf("registered %s with stake %d\n", cCtx.GlobalString("identity"), stake)
				return nil
			}),
		},
		{
			Name:  "start-round",
			Usage: "open the next training round (operator only)",
			Action: withClient(func(ctx context.Context, _ *cli.Context, cl *client.HTTPLedgerClient) error {
				round, err := cl.StartRound(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("round %d started\n", round)
				return nil
			}),
		},
		{
			Name:      "submit",
			Usage:     "commit a model update hash for the active round",
			ArgsUsage: "<hash>",
			Action: withClient(func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error {
				if err := cl.SubmitUpdate(ctx, cCtx.Args().First()); err != nil {
					return err
				}
				fmt.Println("update accepted")
				return nil
			}),
		},
		{
			Name:      "aggregate",
			Usage:     "record the global model and close the round (operator only)",
			ArgsUsage: "<hash>",
			Action: withClient(func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error {
				if err := cl.Aggregate(ctx, cCtx.Args().First()); err != nil {
					return err
				}
				fmt.Println("round aggregated")
				return nil
			}),
		},
		{
			Name:  "claim",
			Usage: "withdraw the pending rewards of the identity",
			Action: withClient(func(ctx context.Context, _ *cli.Context, cl *client.HTTPLedgerClient) error {
				claimed, err := cl.ClaimRewards(ctx)
				if err != nil {
					return err
				}
				return printJSON(claimed)
			}),
		},
		{
			Name:      "participant",
			Usage:     "show a participant record and its pending reward",
			ArgsUsage: "<identity>",
			Action: withClient(func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error {
				id := cCtx.Args().First()
				if id == "" {
					id = cCtx.GlobalString("identity")
				}
				p, err := cl.Participant(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(p)
			}),
		},
		{
			Name:      "model",
			Usage:     "show the global model of an aggregated round",
			ArgsUsage: "<round>",
			Action: withClient(func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error {
				round, err := parseUint(cCtx.Args().First(), "round")
				if err != nil {
					return err
				}
				model, err := cl.GlobalModel(ctx, round)
				if err != nil {
					return err
				}
				return printJSON(model)
			}),
		},
		{
			Name:      "update",
			Usage:     "show the update a participant submitted in a round",
			ArgsUsage: "<round> <identity>",
			Action: withClient(func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error {
				round, err := parseUint(cCtx.Args().First(), "round")
				if err != nil {
					return err
				}
				upd, err := cl.Update(ctx, round, cCtx.Args().Get(1))
				if err != nil {
					return err
				}
				return printJSON(upd)
			}),
		},
		{
			Name:  "payouts",
			Usage: "list journaled payouts awaiting the treasury (operator only)",
			Action: withClient(func(ctx context.Context, _ *cli.Context, cl *client.HTTPLedgerClient) error {
				payouts, err := cl.PendingPayouts(ctx)
				if err != nil {
					return err
				}
				return printJSON(payouts)
			}),
		},
		{
			Name:  "backup",
			Usage: "snapshot the ledger database on the daemon host (operator only)",
			Action: withClient(func(ctx context.Context, _ *cli.Context, cl *client.HTTPLedgerClient) error {
				b, err := cl.Backup(ctx)
				if err != nil {
					return err
				}
				return printJSON(b)
			}),
		},
		{
			Name:      "settle",
			Usage:     "acknowledge that the treasury executed a payout (operator only)",
			ArgsUsage: "<payout id>",
			Action: withClient(func(ctx context.Context, cCtx *cli.Context, cl *client.HTTPLedgerClient) error {
				if err := cl.SettlePayout(ctx, cCtx.Args().First()); err != nil {
					return err
				}
				fmt.Printf("payout %s settled\n", cCtx.Args().First())
				return nil
			}),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
