package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/streams"
	"github.com/anatolykoptev/go_sage/internal/sageserver"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "go_sage",
		Short:   "Trading signals from followed YouTube channels",
		Long:    "go_sage discovers new videos on followed YouTube trading channels, queues them and extracts buy/sell signals from their transcripts.",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.SetVersionTemplate("go_sage version {{.Version}}\n")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRefreshChannelsCmd())
	rootCmd.AddCommand(newRequeueCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		Long:  "Serve the MCP tools over HTTP on MCP_PORT. DISCOVERY_INTERVAL and PROCESS_INTERVAL enable background runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	port := env.Str("MCP_PORT", "8891")
	slog.Info("starting go_sage", slog.String("port", port))

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_sage",
		Version: version,
	}, nil)
	n := sageserver.RegisterTools(server, a.services)
	slog.Info("tools registered", slog.Int("count", n))

	startScheduler(ctx, a.services)

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_sage",
		Version:      version,
		Port:         port,
		WriteTimeout: 600 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		return err
	}
	return nil
}

// startScheduler runs discovery and processing on their intervals until ctx
// ends. A zero interval leaves that loop off.
func startScheduler(ctx context.Context, s *sageserver.Services) {
	if d := engine.Cfg.DiscoveryInterval; d > 0 {
		go every(ctx, "discovery", d, func(ctx context.Context) error {
			_, err := s.Discoverer.DiscoverAll(ctx)
			return err
		})
	}
	if d := engine.Cfg.ProcessInterval; d > 0 {
		go every(ctx, "processing", d, func(ctx context.Context) error {
			_, err := s.Processor.ProcessBatch(ctx, engine.Cfg.ProcessBatchSize)
			return err
		})
	}
}

func every(ctx context.Context, name string, d time.Duration, fn func(context.Context) error) {
	slog.Info("scheduler started", slog.String("job", name), slog.Duration("interval", d))
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("scheduled run failed", slog.String("job", name), slog.Any("error", err))
			}
		}
	}
}

func newDiscoverCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan followed channels for new videos",
		Long:  "Scan the channels a user follows (every user when --user is empty) and queue new videos.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				if user == "" {
					return a.services.Discoverer.DiscoverAll(ctx)
				}
				return a.services.Discoverer.DiscoverForUser(ctx, user)
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Only this user's follows")
	return cmd
}

func newProcessCmd() *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Analyze the next batch of queued streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				n := batch
				if n <= 0 {
					n = engine.Cfg.ProcessBatchSize
				}
				return a.services.Processor.ProcessBatch(ctx, n)
			})
		},
	}

	cmd.Flags().IntVarP(&batch, "batch", "b", 0, "Batch size (default PROCESS_BATCH_SIZE)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Count a user's streams and queue entries by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" {
				return fmt.Errorf("--user: %w", streams.ErrMissingArgument)
			}
			return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				return a.services.Processor.Status(ctx, user)
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User to report on")
	return cmd
}

func newRefreshChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-channels",
		Short: "Re-read metadata of every stored channel from YouTube",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				return a.services.Channels.RefreshAll(ctx)
			})
		},
	}
}

func newRequeueCmd() *cobra.Command {
	var (
		user  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Return failed streams to the processing queue",
		Long:  "Requeue failed entries of one user, or of every user when --user is empty.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				n, err := a.services.Processor.RequeueFailed(ctx, user, limit)
				return map[string]int{"requeued": n}, err
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Only this user's failures")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Max entries to requeue")
	return cmd
}

// withApp wires the pipeline, runs fn and prints its result as JSON.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) (any, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
