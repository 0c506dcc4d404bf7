package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apidispatch "github.com/kilianp07/repairdispatch/api/dispatch"
	"github.com/kilianp07/repairdispatch/config"
)

var (
	tokenTTL   time.Duration
	tokenRoles []string
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for the admin API",
	Args:  cobra.ExactArgs(1),
	RunE:  issueToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role claim (repeatable)")
	rootCmd.AddCommand(tokenCmd)
}

func issueToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.HTTP.JWTSecret == "" {
		return fmt.Errorf("http.jwt_secret is not configured")
	}
	tok, err := apidispatch.IssueToken(cfg.HTTP.JWTSecret, cfg.HTTP.JWTIssuer, args[0], tokenTTL, tokenRoles...)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
