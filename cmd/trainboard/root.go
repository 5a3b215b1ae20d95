package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trainboard/internal/app"
	"trainboard/internal/registry"
)

// configEnv overrides --config when set.
const configEnv = "CONFIG_FILE"

type serveFlags struct {
	config   string
	snapshot string
	addr     string
}

func newRootCmd() *cobra.Command {
	var f serveFlags

	root := &cobra.Command{
		Use:           "trainboard",
		Short:         "Train station arrival board service",
		Long:          `trainboard keeps a registry of train stations and their arrival schedules, accepts updates over HTTP and saves the registry to a JSON snapshot on shutdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	root.PersistentFlags().StringVar(&f.config, "config", "config.json",
		"path to config file (.json or .yaml); "+configEnv+" overrides it")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	for _, c := range []*cobra.Command{root, serve} {
		c.Flags().StringVar(&f.snapshot, "snapshot", "", "registry snapshot file (overrides registry.snapshot_path)")
		c.Flags().StringVar(&f.addr, "addr", "", "listen address (overrides http.addr)")
	}

	root.AddCommand(serve, newSnapshotCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trainboard %s (commit: %s)\n", version, commit)
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	snap := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect registry snapshot files",
	}
	snap.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Decode a snapshot and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			reg := registry.Empty()
			if len(data) > 0 {
				reg, err = registry.Decode(data)
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version %d, %d stations, %d entries\n", reg.Version(), reg.Len(), reg.EntryCount())
			for _, st := range reg.Stations() {
				fmt.Fprintf(out, "  %s: %d entries\n", st.Name, len(st.Schedule))
			}
			return nil
		},
	})
	return snap
}

func resolveConfigPath(flag string) string {
	if env := strings.TrimSpace(os.Getenv(configEnv)); env != "" {
		return env
	}
	return flag
}

func runServe(ctx context.Context, f serveFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(app.Options{
		ConfigPath:   resolveConfigPath(f.config),
		SnapshotPath: f.snapshot,
		Addr:         f.addr,
	})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	stopErr := a.Stop(stopCtx, reason)
	return errors.Join(a.Err(), stopErr)
}
