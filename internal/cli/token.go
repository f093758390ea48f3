package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"ta-content-pipeline/pkg/token"
)

var (
	tokenService string
	tokenScopes  []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a service token for the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is not configured")
		}
		m := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
		tok, err := m.GenerateToken(tokenService, tokenScopes)
		if err != nil {
			return err
		}
		cmd.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenService, "service", "cli", "name of the calling service")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{token.ScopeIngest, token.ScopeRunRead}, "granted scopes")
	rootCmd.AddCommand(tokenCmd)
}
