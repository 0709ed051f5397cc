package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phrazzld/chatrelay/internal/generation"
)

type askOptions struct {
	system      string
	model       string
	temperature float64
	maxTokens   int
	noCache     bool
	asJSON      bool
}

func newAskCmd(c *cli) *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the reply",
		Long: `Send one message through the request pipeline and print the reply.
The message is read from the arguments, or from stdin when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			if message == "" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read message from stdin: %w", err)
				}
				message = strings.TrimSpace(string(raw))
			}

			req := generation.Request{
				Message:      message,
				SystemPrompt: opts.system,
				Model:        opts.model,
				BypassCache:  opts.noCache,
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &opts.temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxOutputTokens = &opts.maxTokens
			}

			return runAsk(cmd.Context(), c, req, opts.asJSON, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.system, "system", "s", "", "system prompt")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model (defaults to llm.model)")
	cmd.Flags().Float64VarP(&opts.temperature, "temperature", "t", 0, "sampling temperature, clamped to [0, 2]")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "maximum output tokens, clamped to [1, 8192]")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "skip the response cache")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func runAsk(ctx context.Context, c *cli, req generation.Request, asJSON bool, out io.Writer) error {
	if _, err := generation.Prepare(req, pipelineConfig(c.config).Defaults); err != nil {
		return err
	}

	app, err := newApplication(ctx, c.config, c.logger)
	if err != nil {
		return err
	}
	defer app.cleanup(context.WithoutCancel(ctx))

	result, err := app.pipeline.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, generation.ErrContentBlocked) {
			return fmt.Errorf("the reply was blocked by safety filters: %w", err)
		}
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	_, err = fmt.Fprintln(out, result.Content)
	return err
}
