package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/RowanDark/autodecode/internal/config"
	"github.com/RowanDark/autodecode/internal/logging"
	"github.com/RowanDark/autodecode/internal/updater"
)

func (c *cli) runSelfUpdate(args []string) int {
	if len(args) > 0 && args[0] == "channel" {
		return c.runSelfUpdateChannel(args[1:])
	}

	flags := c.flagSet("self-update")
	channelFlag := flags.String("channel", "", "update channel to use for this invocation (stable or beta)")
	rollback := flags.Bool("rollback", false, "restore the previous autodecode binary")
	allowDowngrade := flags.Bool("allow-downgrade", false, "install the channel release even when it is older than this build")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 0 {
		fmt.Fprintln(c.stderr, "self-update takes no positional arguments")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(c.stderr, "load config: %v\n", err)
		return 1
	}
	store, err := updater.NewStore("")
	if err != nil {
		fmt.Fprintf(c.stderr, "prepare updater state: %v\n", err)
		return 1
	}
	st, err := store.Load()
	if err != nil {
		fmt.Fprintf(c.stderr, "load updater state: %v\n", err)
		return 1
	}

	// The stored channel wins over the configured one once a state file exists.
	channel := cfg.Update.Channel
	if _, err := os.Stat(store.Path()); err == nil {
		channel = st.Channel
	} else if !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(c.stderr, "stat updater state: %v\n", err)
		return 1
	}
	persist := true
	if *channelFlag != "" {
		normalized, err := updater.NormalizeChannel(*channelFlag)
		if err != nil {
			fmt.Fprintf(c.stderr, "invalid channel %q: %v\n", *channelFlag, err)
			return 2
		}
		channel = normalized
		persist = false
	}

	audit, err := cliAuditLogger(cfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "open audit log: %v\n", err)
		return 1
	}
	if audit != nil {
		defer audit.Close()
	}

	client := &updater.Client{
		Store:          store,
		BaseURL:        cfg.Update.BaseURL,
		PublicKey:      cfg.Update.PublicKey,
		CurrentVersion: version,
		Out:            c.stdout,
		Audit:          audit,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *rollback {
		if _, err := client.Rollback(ctx, updater.RollbackOptions{ForceStable: true}); err != nil {
			fmt.Fprintf(c.stderr, "rollback failed: %v\n", err)
			return 1
		}
		return 0
	}

	if _, err := client.Update(ctx, updater.UpdateOptions{Channel: channel, PersistChannel: persist, AllowDowngrade: *allowDowngrade}); err != nil {
		fmt.Fprintf(c.stderr, "update failed: %v\n", err)
		switch {
		case errors.Is(err, updater.ErrNoSource), errors.Is(err, updater.ErrNoPublicKey):
			fmt.Fprintln(c.stderr, "set update.base_url and update.public_key in autodecode.yml, or AUTODECODE_UPDATE_URL and AUTODECODE_UPDATE_PUBLIC_KEY")
		case errors.Is(err, updater.ErrDowngrade):
			fmt.Fprintln(c.stderr, "rerun with --allow-downgrade to install it anyway")
		}
		return 1
	}
	return 0
}

func (c *cli) runSelfUpdateChannel(args []string) int {
	flags := c.flagSet("self-update channel")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	store, err := updater.NewStore("")
	if err != nil {
		fmt.Fprintf(c.stderr, "prepare updater state: %v\n", err)
		return 1
	}
	st, err := store.Load()
	if err != nil {
		fmt.Fprintf(c.stderr, "load updater state: %v\n", err)
		return 1
	}

	switch flags.NArg() {
	case 0:
		fmt.Fprintln(c.stdout, st.Channel)
		return 0
	case 1:
		channel, err := updater.NormalizeChannel(flags.Arg(0))
		if err != nil {
			fmt.Fprintf(c.stderr, "invalid channel %q: %v\n", flags.Arg(0), err)
			return 2
		}
		st.Channel = channel
		if err := store.Save(st); err != nil {
			fmt.Fprintf(c.stderr, "persist updater state: %v\n", err)
			return 1
		}
		fmt.Fprintf(c.stdout, "default channel set to %s\n", channel)
		return 0
	default:
		fmt.Fprintln(c.stderr, "self-update channel accepts at most one argument")
		return 2
	}
}

// cliAuditLogger returns a logger writing to the configured audit file, or
// nil when none is set. The CLI never writes audit events to stdout.
func cliAuditLogger(cfg config.Config) (*logging.AuditLogger, error) {
	path := strings.TrimSpace(cfg.AuditLog)
	if path == "" {
		return nil, nil
	}
	return logging.NewAuditLogger("autodecode", logging.WithoutStdout(), logging.WithFile(path))
}
