package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/agro-freight/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		Long: `Sign a token the API accepts, using the same secret as the server.

Examples:
  agroctl token --user client-1 --role client
  agroctl token --user trans-7 --role transporter --ttl 1h`,
		RunE: runToken,
	}
	cmd.Flags().String("user", "", "user id to put in the token (required)")
	cmd.Flags().String("role", string(auth.RoleClient), "client, transporter or admin")
	cmd.Flags().String("secret", envOr("JWT_SECRET", "dev-secret-change-me"), "HS256 signing secret")
	cmd.Flags().String("issuer", envOr("JWT_ISSUER", "agro-freight"), "token issuer")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	secret, _ := cmd.Flags().GetString("secret")
	issuer, _ := cmd.Flags().GetString("issuer")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	tok, err := mintToken(secret, issuer, ttl, user, auth.Role(role))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func mintToken(secret, issuer string, ttl time.Duration, user string, role auth.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	return auth.NewService(secret, issuer, ttl).Issue(auth.Actor{UserID: user, Role: role})
}
