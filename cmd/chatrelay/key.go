package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phrazzld/chatrelay/internal/credential"
)

var errVaultDisabled = errors.New("credential vault disabled: set storage.vault_secret (CHATRELAY_STORAGE_VAULT_SECRET)")

func newKeyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the stored Gemini API key",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [api-key]",
			Short: "Validate, seal and store an API key (read from stdin when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key := ""
				if len(args) == 1 {
					key = args[0]
				} else {
					raw, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("failed to read key from stdin: %w", err)
					}
					key = strings.TrimSpace(string(raw))
				}
				return withVault(cmd.Context(), c, func(ctx context.Context, app *application) error {
					if err := app.vault.SaveAPIKey(ctx, key); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "API key saved")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Send a minimal request to check the API key is accepted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				app, err := newStoreApplication(ctx, c.config, c.logger)
				if err != nil {
					return err
				}
				defer app.cleanup(ctx)

				transport, err := app.transport(ctx)
				if err != nil {
					return err
				}
				if err := transport.Verify(ctx, c.config.LLM.Model); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key is valid")
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove",
			Short: "Delete the stored API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withVault(cmd.Context(), c, func(ctx context.Context, app *application) error {
					if err := app.vault.RemoveAPIKey(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "API key removed")
					return nil
				})
			},
		},
	)
	return cmd
}

// withVault opens the store and vault, runs fn and closes them again.
func withVault(ctx context.Context, c *cli, fn func(context.Context, *application) error) error {
	app, err := newStoreApplication(ctx, c.config, c.logger)
	if err != nil {
		return err
	}
	defer app.cleanup(ctx)

	if app.vault == nil {
		return errVaultDisabled
	}
	if err := fn(ctx, app); err != nil {
		if errors.Is(err, credential.ErrInvalidAPIKey) {
			return fmt.Errorf("%w: Gemini keys start with AIza and are 39 characters long", err)
		}
		return err
	}
	return nil
}
