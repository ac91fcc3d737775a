package cli

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nifty-options-engine/internal/audit"
	"nifty-options-engine/internal/broker"
	"nifty-options-engine/pkg/utils"
)

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newAuthStatusCmd(app))
}

func (a *App) zerodha() (*broker.ZerodhaBroker, error) {
	creds := a.Config.Credentials.Zerodha
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("zerodha api_key and api_secret are not configured in credentials.toml")
	}
	return broker.NewZerodhaBroker(broker.ZerodhaConfig{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
		UserID:    creds.UserID,
		TokenPath: a.Config.Broker.SessionPath,
	}, a.Logger), nil
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to Zerodha Kite Connect",
		Long: `Login to Zerodha Kite Connect.

Opens the Kite login page, then reads the request_token from the redirect URL
and exchanges it for an access token. The session is saved and reused until
it expires at 06:00 IST.`,
		Example: `  niftyengine login
  niftyengine login --token=<request_token>
  niftyengine login url
  niftyengine login complete <request_token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			zb, err := app.zerodha()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if zb.IsAuthenticated() {
				output.Success("Already logged in")
				showSession(output, app)
				return nil
			}

			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				loginURL := zb.LoginURL()
				output.Info("Opening Zerodha login page...")
				output.Println()
				output.Bold("Login URL:")
				output.Println(loginURL)
				output.Println()

				if err := openURL(loginURL); err != nil {
					output.Warning("Could not open browser automatically")
				}

				output.Info("After logging in, you'll be redirected to a URL like:")
				output.Dim("  https://your-redirect-url.com/?request_token=XXXXXX&status=success")
				output.Println()
				output.Bold("Paste the request_token value here:")
				output.Printf("> ")

				reader := bufio.NewReader(cmd.InOrStdin())
				line, _ := reader.ReadString('\n')
				token = extractRequestToken(line)
				if token == "" {
					output.Error("No token provided")
					return fmt.Errorf("no token provided")
				}
			}

			return completeLogin(ctx, app, zb, output, token)
		},
	}

	cmd.Flags().String("token", "", "Request token from redirect URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "url",
		Short: "Print the Kite login URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			zb, err := app.zerodha()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"url": zb.LoginURL()})
			}
			output.Println(zb.LoginURL())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <request_token|redirect_url>",
		Short: "Exchange a request token for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			zb, err := app.zerodha()
			if err != nil {
				return err
			}
			token := extractRequestToken(args[0])
			if token == "" {
				return fmt.Errorf("no token provided")
			}
			return completeLogin(ctx, app, zb, output, token)
		},
	})

	return cmd
}

// extractRequestToken accepts either the bare token or the full redirect URL.
func extractRequestToken(input string) string {
	input = strings.TrimSpace(input)
	if i := strings.Index(input, "request_token="); i >= 0 {
		input = input[i+len("request_token="):]
		if j := strings.IndexByte(input, '&'); j >= 0 {
			input = input[:j]
		}
	}
	return input
}

func completeLogin(ctx context.Context, app *App, zb *broker.ZerodhaBroker, output *Output, token string) error {
	output.Info("Completing login with token...")
	loginErr := zb.CompleteLogin(ctx, token)

	if app.Config.Audit.Enabled {
		if al, err := audit.New(app.Config.Audit); err == nil {
			msg := ""
			if loginErr != nil {
				msg = loginErr.Error()
			}
			if err := al.LogLogin(ctx, app.Config.Credentials.Zerodha.UserID, loginErr == nil, msg); err != nil {
				app.Logger.Warn().Err(err).Msg("Failed to audit login")
			}
			al.Close()
		}
	}

	if loginErr != nil {
		output.Error("Login failed: %v", loginErr)
		return loginErr
	}

	output.Success("Login successful")
	showSession(output, app)
	return nil
}

func showSession(output *Output, app *App) {
	now := time.Now()
	expiry := utils.NextSessionExpiry(now)

	output.Println()
	output.Bold("Session")
	output.Printf("  User ID:    %s\n", app.Config.Credentials.Zerodha.UserID)
	output.Printf("  Expires:    %s (%s remaining)\n",
		expiry.Format("02 Jan 2006, 03:04 PM"),
		formatDuration(expiry.Sub(now)))
	output.Printf("  Saved at:   %s\n", app.Config.Broker.SessionPath)
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "auth-status",
		Short: "Check authentication status",
		Long:  "Display whether a saved Kite session is present and when it expires.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			zb, err := app.zerodha()
			if err != nil {
				output.Error("%v", err)
				return nil
			}

			authenticated := zb.IsAuthenticated()
			if output.IsJSON() {
				return output.JSON(map[string]any{
					"authenticated": authenticated,
					"user_id":       app.Config.Credentials.Zerodha.UserID,
					"expires_at":    utils.NextSessionExpiry(time.Now()).Format(time.RFC3339),
				})
			}

			if !authenticated {
				output.Warning("Not authenticated")
				output.Println()
				output.Info("Run 'niftyengine login' to authenticate")
				return nil
			}

			output.Success("Authenticated")
			showSession(output, app)
			return nil
		},
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
