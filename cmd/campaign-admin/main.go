// ABOUTME: Operator CLI for campaign-gateway working directly against the configured store
// ABOUTME: Manages the API key allow-list, inspects stored results, status counters and rate limits

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/campaign-gateway/internal/auth"
	"github.com/2389/campaign-gateway/internal/config"
	"github.com/2389/campaign-gateway/internal/pipeline"
	"github.com/2389/campaign-gateway/internal/ratelimit"
	"github.com/2389/campaign-gateway/internal/session"
	"github.com/2389/campaign-gateway/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// defaultConfigPath mirrors campaign-gateway's lookup:
// CAMPAIGN_CONFIG > XDG_CONFIG_HOME/campaign/gateway.yaml > ~/.config/campaign/gateway.yaml
func defaultConfigPath() string {
	if envPath := os.Getenv("CAMPAIGN_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "campaign", "gateway.yaml")
}

// app carries what every subcommand needs
type app struct {
	cfgPath string
	out     io.Writer
}

// openStore loads the config and opens its store. The caller closes it.
func (a *app) openStore(ctx context.Context) (*config.Config, store.Store, error) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Storage.Backend == config.BackendMemory {
		return nil, nil, errors.New("the memory backend lives inside the gateway process and cannot be administered")
	}
	s, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return cfg, s, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "campaign-admin",
		Short:         "Administer a campaign-gateway store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultConfigPath(), "gateway config file")

	root.AddCommand(newKeysCmd(a))
	root.AddCommand(newResultsCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newRateLimitCmd(a))

	return root
}

func newKeysCmd(a *app) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage the API key allow-list",
	}

	var plain bool
	add := &cobra.Command{
		Use:   "add [key]",
		Short: "Add a key, generating one when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			key := "cgw_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			if len(args) == 1 {
				key = strings.TrimSpace(args[0])
			}
			if key == "" {
				return errors.New("key cannot be empty")
			}

			entry := key
			if !plain {
				if entry, err = auth.HashKey(key); err != nil {
					return err
				}
			}

			if err := auth.NewAllowList(s, cfg.Auth.DefaultKeys).Add(ctx, entry); err != nil {
				return fmt.Errorf("adding key: %w", err)
			}

			color.New(color.FgGreen).Fprintf(a.out, "✓ Added key %s\n", auth.Fingerprint(key))
			if len(args) == 0 {
				color.New(color.FgYellow).Fprintln(a.out, "Your API key (shown once):")
				fmt.Fprintf(a.out, "  %s\n", key)
			}
			return nil
		},
	}
	add.Flags().BoolVar(&plain, "plain", false, "store the key in plaintext instead of as a bcrypt hash")

	list := &cobra.Command{
		Use:   "list",
		Short: "List allow-list entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := auth.NewAllowList(s, cfg.Auth.DefaultKeys).Keys(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No keys configured.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tKIND\tIDENTIFIER")
			for i, entry := range entries {
				kind, ident := describeEntry(entry)
				fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, kind, ident)
			}
			return w.Flush()
		},
	}

	remove := &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a key (plaintext or the key a hashed entry was made from)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			err = auth.NewAllowList(s, cfg.Auth.DefaultKeys).Remove(ctx, args[0])
			if errors.Is(err, auth.ErrKeyNotFound) {
				return fmt.Errorf("key %s is not in the allow-list", auth.Fingerprint(args[0]))
			}
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(a.out, "✓ Removed key %s\n", auth.Fingerprint(args[0]))
			return nil
		},
	}

	keys.AddCommand(add, list, remove)
	return keys
}

// describeEntry never prints a plaintext key back
func describeEntry(entry string) (kind, ident string) {
	if fp, ok := auth.EntryFingerprint(entry); ok {
		return "bcrypt", fp
	}
	if auth.IsHashed(entry) {
		return "bcrypt", entry[:min(len(entry), 12)] + "…"
	}
	return "plain", auth.Fingerprint(entry)
}

func newResultsCmd(a *app) *cobra.Command {
	results := &cobra.Command{
		Use:   "results",
		Short: "Inspect stored generation results",
	}

	get := &cobra.Command{
		Use:   "get <request-id>",
		Short: "Print a stored result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var res pipeline.Result
			err = store.GetJSON(ctx, s, pipeline.ResultKeyPrefix+args[0], &res)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no result for %s (unknown or expired)", args[0])
			}
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			cyan.Fprintf(a.out, "Request:   %s\n", res.RequestID)
			fmt.Fprintf(a.out, "Campaign:  %s\n", res.CampaignType)
			fmt.Fprintf(a.out, "Created:   %s\n", res.Timestamp)
			fmt.Fprintf(a.out, "Score:     %d/10\n\n", res.Score)
			cyan.Fprintln(a.out, "Content")
			fmt.Fprintf(a.out, "%s\n\n", res.OriginalContent)
			cyan.Fprintln(a.out, "Review")
			fmt.Fprintf(a.out, "%s\n", res.Review)
			if res.ImprovedContent != "" {
				fmt.Fprintln(a.out)
				cyan.Fprintln(a.out, "Improved content")
				fmt.Fprintf(a.out, "%s\n", res.ImprovedContent)
			}
			return nil
		},
	}

	results.AddCommand(get)
	return results
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the system_status counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			state, err := s.GetSessionState(ctx, session.SystemStatusName)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Storage:            %s\n", cfg.Storage.Backend)
			fmt.Fprintf(a.out, "Requests processed: %d\n", state.RequestsProcessed)
			if state.StartTime.IsZero() {
				fmt.Fprintln(a.out, "Started:            never")
				return nil
			}
			fmt.Fprintf(a.out, "Started:            %s\n", state.StartTime.Local().Format(time.RFC1123))
			fmt.Fprintf(a.out, "Uptime:             %s\n", time.Since(state.StartTime).Round(time.Second))
			return nil
		},
	}
}

func newRateLimitCmd(a *app) *cobra.Command {
	rl := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect or reset per-client rate limit counters",
	}

	show := &cobra.Command{
		Use:   "show <client>",
		Short: "Show the counter for a client address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var c ratelimit.Counter
			err = store.GetJSON(ctx, s, ratelimit.Key(args[0]), &c)
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintf(a.out, "%s has no counter\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			started := time.UnixMilli(c.Timestamp)
			fmt.Fprintf(a.out, "%s: %d/%d since %s\n", args[0], c.Count, cfg.RateLimit.Limit, started.Local().Format(time.RFC3339))
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <client>",
		Short: "Delete the counter for a client address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Delete(ctx, ratelimit.Key(args[0])); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(a.out, "✓ Reset rate limit for %s\n", args[0])
			return nil
		},
	}

	rl.AddCommand(show, reset)
	return rl
}
