package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// RemoteProvider talks JSON over HTTP to the custodial wallet service
type RemoteProvider struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewRemoteProvider creates a provider client
func NewRemoteProvider(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *RemoteProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteProvider{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// FetchWallet returns the wallet handle for walletID
func (p *RemoteProvider) FetchWallet(ctx context.Context, walletID string) (*Wallet, error) {
	var out struct {
		Wallet Wallet `json:"wallet"`
	}
	if err := p.do(ctx, http.MethodGet, "/wallets/"+url.PathEscape(walletID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Wallet, nil
}

// SignTransaction asks the provider to sign tx with walletID's key
func (p *RemoteProvider) SignTransaction(ctx context.Context, walletID string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	req := map[string]any{
		"chain_id":    chainID.String(),
		"unsigned_tx": hexutil.Encode(raw),
	}

	var out struct {
		SignedTx string `json:"signed_tx"`
	}
	if err := p.do(ctx, http.MethodPost, "/wallets/"+url.PathEscape(walletID)+"/sign", req, &out); err != nil {
		return nil, err
	}

	signedRaw, err := hexutil.Decode(out.SignedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(signedRaw); err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	return signed, nil
}

// ListWallets pages through every wallet the provider holds
func (p *RemoteProvider) ListWallets(ctx context.Context) ([]Wallet, error) {
	var all []Wallet
	token := ""

	for {
		path := "/wallets"
		if token != "" {
			path += "?page_token=" + url.QueryEscape(token)
		}

		var out struct {
			Wallets       []Wallet `json:"wallets"`
			NextPageToken string   `json:"next_page_token"`
		}
		if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}

		all = append(all, out.Wallets...)
		if out.NextPageToken == "" {
			return all, nil
		}
		token = out.NextPageToken
	}
}

func (p *RemoteProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("wallet provider %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: provider has no wallet at %s", domain.ErrWalletResolution, path)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.Warn("Wallet provider request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("wallet provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode wallet provider response: %w", err)
	}
	return nil
}
