package streamcli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/lookout"
	"github.com/spf13/cobra"
)

var showToken bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the app key for an access token and describe it",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := resolvedSettings()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := cfg.Validate(); err != nil {
			exitWithError(cmd, describe(err))
			return
		}
		provider, err := lookout.NewTokenProvider(lookout.ProviderOptions{
			AppKey:     cfg.AppKey,
			TokenURL:   cfg.TokenURL(),
			HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		})
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := provider.Authenticate(cmd.Context()); err != nil {
			exitWithError(cmd, describe(err))
			return
		}
		tok, _ := provider.Token()
		now := time.Now().UTC()

		info := tokenInfo{
			TokenURL:  cfg.TokenURL(),
			TokenType: tok.TokenType,
			ExpiresAt: tok.Expiry.UTC(),
			ExpiresIn: humanDuration(tok.Expiry.Sub(now)),
		}
		if showToken {
			info.AccessToken = tok.AccessToken
		}
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), info); err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "TOKEN URL\t%s\n", info.TokenURL)
		fmt.Fprintf(tw, "TYPE\t%s\n", info.TokenType)
		fmt.Fprintf(tw, "EXPIRES\t%s (%s)\n", info.ExpiresAt.Format(time.RFC3339), relativeTime(info.ExpiresAt, now))
		if showToken {
			fmt.Fprintf(tw, "ACCESS TOKEN\t%s\n", info.AccessToken)
		}
		flushTable(tw)
	},
}

type tokenInfo struct {
	TokenURL    string    `json:"tokenUrl"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ExpiresIn   string    `json:"expiresIn"`
	AccessToken string    `json:"accessToken,omitempty"`
}

func init() {
	tokenCmd.Flags().BoolVar(&showToken, "show", false, "Print the access token itself")
}
