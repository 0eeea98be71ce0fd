package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/remote-lab-core/internal/auth"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/config"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/logging"
)

// newRootCmd builds the remotelab command tree. Running the root command
// without a subcommand serves the API.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "remotelab",
		Short:         "Firmware build and flash service for lab boards",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}}\n  Commit:    %s\n  Built:     %s\n", commit, date))
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(&configPath),
		newCheckCmd(&configPath),
		newTokenCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(*configPath))
		},
	}
}

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the firmware toolchain is installed and report its version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

// runCheck probes the configured toolchain once, bypassing the cache.
func runCheck(ctx context.Context, out io.Writer, cfg *config.Config) error {
	runner := newToolchain(cfg.Toolchain, logging.Discard())
	probe, err := runner.Probe(ctx)
	if err != nil {
		return fmt.Errorf("toolchain %q: %w", runner.Binary(), err)
	}
	fmt.Fprintf(out, "binary:  %s\npath:    %s\nversion: %s\n", runner.Binary(), probe.Path, probe.Version)
	return nil
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with security.jwt.secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runToken(cmd.OutOrStdout(), cfg, subject, ttl)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, recorded in the audit trail (required)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "lifetime in minutes (default security.jwt.token_ttl)")
	//nolint:errcheck // flag is defined directly above
	cmd.MarkFlagRequired("subject")
	return cmd
}

// runToken writes a signed token for subject to out.
func runToken(out io.Writer, cfg *config.Config, subject string, ttlMinutes int) error {
	if !cfg.AuthEnabled() {
		return fmt.Errorf("security.jwt.secret is not set; the API accepts unauthenticated requests")
	}
	if ttlMinutes <= 0 {
		ttlMinutes = cfg.Security.JWT.TokenTTL
	}
	token, err := auth.GenerateToken(subject, cfg.Security.JWT.Secret, time.Duration(ttlMinutes)*time.Minute)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of remotelab",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "remotelab %s\n", version)
			fmt.Fprintf(out, "  Commit:    %s\n", commit)
			fmt.Fprintf(out, "  Built:     %s\n", date)
		},
	}
}
