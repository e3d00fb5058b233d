// ABOUTME: token subcommand minting JWT bearer tokens for API callers
// ABOUTME: Tokens are signed with auth.jwt_secret and accepted alongside the API key

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/config"
)

// Default TTL: 30 days
const defaultTokenTTL = 30 * 24 * time.Hour

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for an API caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runToken(cmd.OutOrStdout(), cfg, subject, ttl)
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Name of the caller the token identifies (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func runToken(out io.Writer, cfg *config.Config, subject string, ttl time.Duration) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return errors.New("subject cannot be empty or whitespace only")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
