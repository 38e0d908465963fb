package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttown/inference"
	_ "github.com/hupe1980/agenttown/inference/providers" // registers SDK provider kinds
)

func newProvidersCmd(flags *globalFlags) *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List provider kinds and the configured provider table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kinds: %v\n\n", inference.Kinds())

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tMODEL\tDEFAULT\tSTATUS")

			var gw *inference.Gateway
			if ping && len(cfg.Providers) > 0 {
				providers, err := inference.Build(cfg.InferenceProviders())
				if err != nil {
					return err
				}
				gw, err = inference.New(providers, func(o *inference.Options) {
					o.Timeout = cfg.Gateway.Timeout
					o.Timeouts = cfg.ProviderTimeouts()
					o.MaxRetries = 0
				})
				if err != nil {
					return err
				}
			}

			for _, p := range cfg.Providers {
				id := p.ID
				if id == "" {
					id = p.Kind
				}
				def := ""
				if id == cfg.Gateway.DefaultProvider {
					def = "*"
				}
				status := "-"
				if gw != nil {
					status = pingProvider(cmd.Context(), gw, id)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, p.Kind, p.Model, def, status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&ping, "ping", false, "send a short prompt to every configured provider")
	return cmd
}

func pingProvider(ctx context.Context, gw *inference.Gateway, id string) string {
	start := time.Now()
	_, err := gw.Infer(ctx, inference.Request{ProviderID: id, Prompt: "Reply with the single word: pong", MaxTokens: 8})
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok " + time.Since(start).Round(time.Millisecond).String()
}
