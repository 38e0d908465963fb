package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttown"
	"github.com/hupe1980/agenttown/config"
	"github.com/hupe1980/agenttown/core"
	"github.com/hupe1980/agenttown/logging"
)

func newLogger(cfg *config.Config, out io.Writer) *logging.TownLogger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Format:    cfg.Logging.Format,
		Output:    out,
		Component: "agenttown",
	})
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		duration time.Duration
		restore  bool
		listen   string
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			town, err := agenttown.New(ctx, cfg, func(o *agenttown.Options) {
				o.Logger = logger
				if follow {
					o.Publishers = append(o.Publishers, printer(cmd.OutOrStdout()))
				}
			})
			if err != nil {
				return err
			}
			if restore {
				if _, err := town.Restore(ctx); err != nil {
					_ = town.Stop(context.Background())
					return err
				}
			}
			if err := town.Start(ctx); err != nil {
				_ = town.Stop(context.Background())
				return err
			}

			<-ctx.Done()
			logger.Info("shutting down")
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return town.Stop(stopCtx)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&restore, "restore", true, "load persisted agent records before starting")
	cmd.Flags().StringVar(&listen, "listen", "", "serve the inspection API on this address (overrides server.listen)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "print simulation events to stdout")
	return cmd
}

// printer writes one line per event.
func printer(w io.Writer) core.Publisher {
	var mu sync.Mutex
	return core.PublisherFunc(func(e core.Event) {
		mu.Lock()
		defer mu.Unlock()
		who := e.AgentID
		if who == "" {
			who = "-"
		}
		_, _ = fmt.Fprintf(w, "%s %-22s %-10s %s\n", e.Timestamp.Format("15:04:05"), e.Kind, who, e.Message)
	})
}
