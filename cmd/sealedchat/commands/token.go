package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Chase-Garrett/sealedchat/internal/auth"
	"github.com/Chase-Garrett/sealedchat/internal/config"
	"github.com/Chase-Garrett/sealedchat/internal/store"
)

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [username]",
		Short: "Issue a bearer token for a registered user with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, _, err := loadConfig(func(c *config.Config) error {
				return multierr.Combine(c.Auth.Validate(), c.Database.Validate())
			})
			if err != nil {
				return err
			}
			if !auth.ValidUsername(args[0]) {
				return auth.ErrInvalidUsername
			}

			// the server ignores tokens whose subject has no account
			db, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, db.Close())
			}()
			exists, err := auth.NewUserStorage(db.DB).Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s", auth.ErrUserNotFound, args[0])
			}

			tokens, err := auth.NewTokenService(&auth.TokenConfig{
				Secret: []byte(cfg.Auth.Secret),
				TTL:    cfg.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, err := tokens.Issue(auth.Identity(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
