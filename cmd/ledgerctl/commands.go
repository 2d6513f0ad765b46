package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	redemptionapp "credits-ledger/internal/application/code_redemption"
	creditsapp "credits-ledger/internal/application/credits"
)

// newApp サブコマンドを組み立てる
func newApp(open backendFactory) *cli.App {
	// withBackend バックエンドを開いてからactionを実行する
	withBackend := func(action func(c *cli.Context, b *backend) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			b, closeFn, err := open(c.Context)
			if err != nil {
				return err
			}
			defer closeFn()
			return action(c, b)
		}
	}

	return &cli.App{
		Name:  "ledgerctl",
		Usage: "credits ledger maintenance tool",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create tables, indexes and procedures",
				Action: withBackend(runMigrate),
			},
			{
				Name:  "reconcile",
				Usage: "compare cached balances with the ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "reconcile a single user"},
					&cli.BoolFlag{Name: "repair", Usage: "overwrite drifted cached balances"},
					&cli.IntFlag{Name: "batch-size", Value: 500, Usage: "users per page"},
				},
				Action: withBackend(runReconcile),
			},
			{
				Name:  "generate-codes",
				Usage: "issue redeem codes",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "amount", Required: true, Usage: "credits granted per code"},
					&cli.IntFlag{Name: "count", Value: 1, Usage: "number of codes"},
					&cli.DurationFlag{Name: "expires-in", Usage: "validity period (e.g. 720h)"},
					&cli.StringFlag{Name: "note", Usage: "free-form note"},
				},
				Action: withBackend(runGenerateCodes),
			},
			{
				Name:   "stats",
				Usage:  "show redeem code statistics",
				Action: withBackend(runStats),
			},
		},
	}
}

func runMigrate(c *cli.Context, b *backend) error {
	if err := b.migrate(c.Context); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	printf(c.App.Writer, "migration completed\n")
	return nil
}

func runReconcile(c *cli.Context, b *backend) error {
	repair := c.Bool("repair")

	if userID := c.String("user"); userID != "" {
		resp, err := b.credits.RecomputeBalance(c.Context, &creditsapp.RecomputeBalanceRequest{
			UserID: userID,
			Repair: repair,
		})
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", userID, err)
		}
		printDrift(c, resp)
		return nil
	}

	resp, err := b.credits.ReconcileAll(c.Context, &creditsapp.ReconcileAllRequest{
		Repair:    repair,
		BatchSize: c.Int("batch-size"),
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, d := range resp.Drifts {
		printDrift(c, d)
	}
	printf(c.App.Writer, "scanned=%d drifted=%d repaired=%d failed=%d\n",
		resp.Scanned, resp.Drifted, resp.Repaired, resp.Failed)
	if resp.Failed > 0 {
		return fmt.Errorf("%d users could not be reconciled", resp.Failed)
	}
	return nil
}

func printDrift(c *cli.Context, d *creditsapp.RecomputeBalanceResponse) {
	printf(c.App.Writer, "user=%s cached=%d ledger=%d drift=%d repaired=%t\n",
		d.UserID, d.Cached, d.Ledger, d.Drift, d.Repaired)
}

func runGenerateCodes(c *cli.Context, b *backend) error {
	req := &redemptionapp.GenerateCodesRequest{
		Amount: c.Int64("amount"),
		Count:  c.Int("count"),
		Note:   c.String("note"),
	}
	if d := c.Duration("expires-in"); d > 0 {
		expiresAt := time.Now().Add(d).UTC()
		req.ExpiresAt = &expiresAt
	}

	resp, err := b.redemption.GenerateCodes(c.Context, req)
	if err != nil {
		return fmt.Errorf("generate codes: %w", err)
	}
	for _, code := range resp.Codes {
		printf(c.App.Writer, "%s\t%d\n", code.Code, code.Amount)
	}
	return nil
}

func runStats(c *cli.Context, b *backend) error {
	stats, err := b.redemption.Statistics(c.Context)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	printf(c.App.Writer, "total=%d used=%d unused=%d disabled=%d total_amount=%d used_amount=%d\n",
		stats.Total, stats.Used, stats.Unused, stats.Disabled, stats.TotalAmount, stats.UsedAmount)
	return nil
}
