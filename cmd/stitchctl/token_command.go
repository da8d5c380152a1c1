package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/service"
)

func newTokenCommand() *cobra.Command {
	var (
		email  string
		admin  bool
		secret string
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:         "token <username>",
		Short:       "Mint a session token signed with the server secret",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("no signing secret: set JWT_SECRET or pass --secret")
			}
			caller := model.Caller{Username: args[0], Email: email, Role: model.RoleUser}
			if admin {
				caller.Role = model.RoleAdmin
			}
			token, err := service.NewSessionService(secret, expiry, false).IssueToken(caller)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email used for expiry notices")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to $JWT_SECRET)")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "Token lifetime")
	return cmd
}
