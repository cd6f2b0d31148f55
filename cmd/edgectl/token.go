package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		gatewayURL string
		username   string
		password   string
		apiKey     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token from the Gateway's /auth endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]any{
				"AuthParameters": map[string]string{"USERNAME": username, "PASSWORD": password},
			})
			if err != nil {
				return err
			}

			req, err := http.NewRequest(http.MethodPost, gatewayURL+"/auth", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Api-Key", apiKey)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("request token: %w", err)
			}
			defer resp.Body.Close()

			respBody, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
			}

			var out struct {
				AuthenticationResult struct {
					IdToken string `json:"IdToken"`
				} `json:"AuthenticationResult"`
			}
			if err := json.Unmarshal(respBody, &out); err != nil {
				return fmt.Errorf("decode token response: %w", err)
			}

			fmt.Println(out.AuthenticationResult.IdToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway-url", "http://localhost:8080", "Gateway base URL")
	cmd.Flags().StringVar(&username, "user", "", "Username configured in Gateway auth")
	cmd.Flags().StringVar(&password, "pass", "", "Password configured in Gateway auth")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Gateway /auth API key")
	return cmd
}
