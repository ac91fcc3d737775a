package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/pkg/utils"
)

// maxTagLength is the Kite limit on order tags.
const maxTagLength = 20

// orderTag reduces remarks to the alphanumeric tag Kite accepts.
func orderTag(remarks string) string {
	var b strings.Builder
	for _, r := range remarks {
		if b.Len() >= maxTagLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ZerodhaBroker places orders through Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
}

// NewZerodhaBroker creates a new Zerodha broker instance.
// It automatically loads any saved session from disk.
func NewZerodhaBroker(cfg ZerodhaConfig, logger zerolog.Logger) *ZerodhaBroker {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "nifty-options-engine", "session.json")
	}

	zb := &ZerodhaBroker{
		client:    kiteconnect.New(cfg.APIKey),
		apiSecret: cfg.APISecret,
		userID:    cfg.UserID,
		tokenPath: tokenPath,
		logger:    logger.With().Str("component", "zerodha").Logger(),
	}

	if err := zb.loadSession(); err != nil {
		zb.logger.Debug().Err(err).Msg("No usable saved session")
	}

	return zb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LoginURL returns the Kite login URL for the OAuth flow.
func (z *ZerodhaBroker) LoginURL() string {
	return z.client.GetLoginURL()
}

// CompleteLogin completes the OAuth flow with the request token.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return apperrors.NewBrokerError("SESSION", "failed to generate session", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	if err := z.saveSession(session.AccessToken); err != nil {
		// Session is valid for this process even if it cannot be persisted.
		z.logger.Warn().Err(err).Msg("Failed to persist session")
	}

	return nil
}

// IsAuthenticated returns whether the broker is authenticated.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	if time.Now().After(session.ExpiresAt) {
		return apperrors.ErrSessionExpired
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(z.tokenPath), 0700); err != nil {
		return err
	}

	data, err := json.Marshal(sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   utils.NextSessionExpiry(time.Now()),
	})
	if err != nil {
		return err
	}

	return os.WriteFile(z.tokenPath, data, 0600)
}

// PlaceOrder places a regular-variety order. API-level rejections come back
// as a non-OK result carrying the Kite error; transport failures are errors.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewBrokerError("AUTH", "cannot place order", apperrors.ErrNotAuthenticated)
	}

	tag := orderTag(req.Remarks)

	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.TradingSymbol,
		TransactionType: string(req.Side),
		OrderType:       string(req.OrderType),
		Product:         string(req.Product),
		Quantity:        req.Quantity,
		Validity:        "DAY",
		Tag:             tag,
	}

	start := time.Now()
	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		var kerr kiteconnect.Error
		if errors.As(err, &kerr) {
			return &OrderResult{OK: false, Raw: map[string]any{
				"error_type": kerr.ErrorType,
				"message":    kerr.Message,
				"code":       kerr.Code,
			}}, nil
		}
		return nil, apperrors.NewBrokerError("PLACE_ORDER", "failed to place order", err)
	}
	z.logger.Debug().Dur("duration", time.Since(start)).Str("order_id", resp.OrderID).Msg("Order acknowledged")

	return &OrderResult{
		OK:      true,
		OrderID: resp.OrderID,
		Raw:     resp,
	}, nil
}

// GetTradebook fetches the day's trades.
func (z *ZerodhaBroker) GetTradebook(ctx context.Context) ([]TradebookEntry, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewBrokerError("AUTH", "cannot read tradebook", apperrors.ErrNotAuthenticated)
	}

	trades, err := z.client.GetTrades()
	if err != nil {
		return nil, apperrors.NewBrokerError("TRADEBOOK", "failed to get trades", err)
	}

	result := make([]TradebookEntry, len(trades))
	for i, t := range trades {
		result[i] = TradebookEntry{
			OrderID:       t.OrderID,
			TradeID:       t.TradeID,
			TradingSymbol: t.TradingSymbol,
			Exchange:      t.Exchange,
			Side:          models.OrderSide(t.TransactionType),
			Quantity:      int(t.Quantity),
			AveragePrice:  t.AveragePrice,
			FilledAt:      t.FillTimestamp.Time,
		}
	}

	return result, nil
}

// String identifies the broker in logs.
func (z *ZerodhaBroker) String() string {
	return fmt.Sprintf("zerodha(%s)", z.userID)
}

var _ Broker = (*ZerodhaBroker)(nil)
