// Command magicart-admin manages accounts, license keys and bans directly
// against the configured store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"magicart-access-api/internal/app"
	"magicart-access-api/internal/config"
	"magicart-access-api/internal/model"
	"magicart-access-api/internal/service"
)

const usage = `usage: magicart-admin -user NAME -pass SECRET <command> [args]

commands:
  genkey <tier> [user]   issue a license key, optionally bound to user
  ban <user>             ban an account and its hardware
  users                  list accounts
  keys                   list unredeemed keys
  bans                   list hardware ban records
`

var errUsage = errors.New("invalid arguments")

func main() {
	user := flag.String("user", "", "admin username")
	pass := flag.String("pass", "", "admin password")
	flag.Usage = func() { _, _ = fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := config.NewLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, cfg.App)

	store, err := app.OpenStore(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	core, err := app.NewCore(ctx, cfg, store, nil, logger)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	c := &console{core: core, out: os.Stdout}
	if err := c.run(ctx, *user, *pass, flag.Args()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		os.Exit(1)
	}
}

type console struct {
	core *app.Core
	out  io.Writer
}

func (c *console) run(ctx context.Context, user, pass string, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	admin, err := c.core.Engine.Login(ctx, user, pass)
	if err != nil {
		return err
	}
	if !admin.IsAdmin {
		return service.ErrUnauthorized
	}

	switch args[0] {
	case "genkey":
		return c.genKey(ctx, admin.Username, args[1:])
	case "ban":
		if len(args) != 2 {
			return errUsage
		}
		return c.ban(ctx, admin.Username, args[1])
	case "users":
		return c.users(ctx)
	case "keys":
		return c.keys(ctx)
	case "bans":
		return c.bans(ctx)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func (c *console) genKey(ctx context.Context, actor string, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	tier, err := model.ParseTier(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	bound := ""
	if len(args) == 2 {
		bound = args[1]
	}

	key, err := c.core.Engine.IssueKey(ctx, actor, tier, bound)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, key.Value)
	return err
}

func (c *console) ban(ctx context.Context, actor, target string) error {
	if err := c.core.Engine.AdminBan(ctx, actor, target); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.out, "banned %s (%s)\n", target, service.ReasonAdmin)
	return err
}

func (c *console) users(ctx context.Context) error {
	accounts, err := c.core.Credentials.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "USERNAME\tTIER\tADMIN\tFAILED\tBANNED UNTIL\tREASON")
	for _, a := range accounts {
		until := "-"
		if a.BannedUntil != nil {
			until = a.BannedUntil.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n",
			a.Username, a.Tier, a.IsAdmin, a.FailedKeyAttempts, until, a.BanReason)
	}
	return tw.Flush()
}

func (c *console) keys(ctx context.Context) error {
	keys, err := c.core.Licenses.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tTIER\tBOUND TO\tCREATED")
	for _, k := range keys {
		bound := k.BoundUsername
		if bound == "" {
			bound = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.Value, k.Tier, bound, k.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func (c *console) bans(ctx context.Context) error {
	records, err := c.core.Ledger.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tSURROGATE\tEXPIRES\tCREATED")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.Kind, r.Surrogate, r.ExpiresAt.Format(time.RFC3339), r.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
