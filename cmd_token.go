package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"snapaid/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <user_id>",
	Short: "Issue a bearer token for an existing profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newAuthService()
		if err != nil {
			return err
		}
		defer closeFn()
		token, err := svc.IssueToken(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var revokeUser string

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke [token]",
	Short: "Revoke one token, or every token of --user",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && revokeUser == "" {
			return errors.New("pass a token or --user")
		}
		svc, closeFn, err := newAuthService()
		if err != nil {
			return err
		}
		defer closeFn()
		if revokeUser != "" {
			n, err := svc.RevokeUserTokens(cmd.Context(), revokeUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d token(s) for %s\n", n, revokeUser)
			return nil
		}
		if err := svc.RevokeToken(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "revoked")
		return nil
	},
}

func init() {
	tokenRevokeCmd.Flags().StringVar(&revokeUser, "user", "", "revoke every token of this profile id")
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}

func newAuthService() (*auth.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := openRedis(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	ttl := time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	return auth.NewService(db, rdb, ttl), func() {
		rdb.Close()
		db.Close()
	}, nil
}
