// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage access tokens",
}

var (
	tokenUser  string
	tokenRoles []string
	tokenTTL   time.Duration

	tokenIssueCmd = &cobra.Command{
		Use:   "issue",
		Short: "Mint a signed access token",
		Long: `Signs a token with the configured AUTH_SIGNING_KEY and prints it on
stdout as the only output line, so the command pipes cleanly:

  export FORGE_TOKEN=$(forge token issue --user ci --roles developer)

The signing key must match the serving process or the token will be
rejected.`,
		Args: cobra.NoArgs,
		RunE: runTokenIssue,
	}
)

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenUser, "user", "", "subject the token identifies")
	tokenIssueCmd.Flags().StringSliceVar(&tokenRoles, "roles", nil, "roles to embed (admin, developer, viewer)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime; 0 uses AUTH_TOKEN_TTL_HOURS")
	tokenCmd.AddCommand(tokenIssueCmd)
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	if tokenUser == "" {
		return fault.New(fault.KindInvalidInput, "--user is required")
	}
	if len(tokenRoles) == 0 {
		return fault.New(fault.KindInvalidInput, "--roles is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cliLogger(cfg)
	defer log.Close()

	// Issuing needs no revocation store; a minted token cannot already
	// be revoked.
	svc, err := auth.NewService(cfg.Auth.TakeSigningKey(), cfg.Auth.TokenTTL, nil,
		cfg.Telemetry.InsecureMemory, log)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	defer svc.Close()

	token, claims, err := svc.Issue(tokenUser, tokenRoles, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	ux.Muted(fmt.Sprintf("subject=%s roles=%s expires=%s",
		claims.Subject,
		strings.Join(claims.Roles, ","),
		claims.ExpiresAt.Format(time.RFC3339)))
	return nil
}
