package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/notify"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	Once bool
}

// DispatchResult is the output of a single dispatch pass.
type DispatchResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

func (r DispatchResult) String() string {
	return fmt.Sprintf("delivered %d, failed %d, deferred %d", r.Delivered, r.Failed, r.Deferred)
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Publish committed transitions to subscribers",
		Long: `Poll the transition outbox and publish each event to the tenant's Redis
channel (<prefix>:tenant:<id>:transitions). Without redis.url, events are
written to stdout as JSON lines.

Runs until interrupted unless --once is given.

Examples:
  ATSGUARD_REDIS_URL=redis://localhost:6379/0 atsguard dispatch
  atsguard dispatch --once`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single pass and exit")

	return cmd
}

func runDispatch(opts *DispatchOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := opts.openStore()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	var pub notify.Publisher
	if url := opts.Config.Redis.URL; url != "" {
		client, err := notify.OpenRedis(ctx, url)
		if err != nil {
			_ = f.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		rp := notify.NewRedisPublisher(client, opts.Config.Redis.ChannelPrefix)
		defer rp.Close()
		pub = rp
	} else {
		opts.Logger.Info("redis.url not set, writing events to stdout")
		pub = notify.NewWriterPublisher(cmd.OutOrStdout())
	}

	dc := opts.Config.Dispatcher
	d := notify.NewDispatcher(st, pub,
		notify.WithInterval(dc.Interval),
		notify.WithBatchSize(dc.BatchSize),
		notify.WithMaxAttempts(dc.MaxAttempts),
		notify.WithDispatcherLogger(opts.Logger.Named("dispatch")),
	)

	if opts.Once {
		stats, err := d.DispatchOnce(ctx)
		if err != nil {
			_ = f.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "dispatch failed", err)
		}
		result := DispatchResult{Delivered: stats.Delivered, Failed: stats.Failed, Deferred: stats.Deferred}
		// Events already went to stdout when no Redis is configured.
		if opts.Config.Redis.URL == "" && opts.Format == "text" {
			opts.Logger.Info("dispatch pass complete", zap.Stringer("result", result))
			return nil
		}
		return f.Success(result)
	}
	return d.Run(ctx)
}
