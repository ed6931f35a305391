package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/jmoiron/sqlx"
)

// ErrAmbiguousAddress is returned when more than one provider wallet has the same address
var ErrAmbiguousAddress = errors.New("address matches more than one custodial wallet")

// Directory maps application users to their stored custodial wallet ids
type Directory struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewDirectory creates a new Directory instance
func NewDirectory(db *sqlx.DB, logger *slog.Logger) *Directory {
	return &Directory{
		db:     db,
		logger: logger,
	}
}

// ResolveWalletID returns the stored custodial wallet id for userID. It never
// falls back to address matching.
func (d *Directory) ResolveWalletID(ctx context.Context, userID string) (string, error) {
	query := `
		SELECT user_id, address, custodial_wallet_id
		FROM user_wallets
		WHERE user_id = $1
	`

	var uw domain.UserWallet
	err := d.db.GetContext(ctx, &uw, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: user %s has no wallet", domain.ErrWalletResolution, userID)
		}
		return "", fmt.Errorf("failed to resolve wallet: %w", err)
	}

	if uw.CustodialWalletID == nil || *uw.CustodialWalletID == "" {
		return "", fmt.Errorf("%w: user %s has no stored wallet id", domain.ErrWalletResolution, userID)
	}
	return *uw.CustodialWalletID, nil
}

// FindByAddress scans every provider wallet for address. This is a degraded
// lookup: it is slow and fails when the address is not unique.
func FindByAddress(ctx context.Context, provider Provider, address string) (*Wallet, error) {
	wallets, err := provider.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return matchAddress(indexByAddress(wallets), address)
}

// BackfillReport summarizes a wallet id backfill run
type BackfillReport struct {
	Scanned   int      `json:"scanned"`
	Updated   int      `json:"updated"`
	Unmatched int      `json:"unmatched"`
	Ambiguous []string `json:"ambiguous,omitempty"`
}

// Backfill fills missing custodial wallet ids by matching stored addresses
// against the provider's wallets. Ambiguous addresses are reported and left alone.
func (d *Directory) Backfill(ctx context.Context, provider Provider, dryRun bool) (*BackfillReport, error) {
	query := `
		SELECT user_id, address, custodial_wallet_id
		FROM user_wallets
		WHERE custodial_wallet_id IS NULL OR custodial_wallet_id = ''
		ORDER BY user_id
	`

	var missing []domain.UserWallet
	if err := d.db.SelectContext(ctx, &missing, query); err != nil {
		return nil, fmt.Errorf("failed to list wallets without id: %w", err)
	}

	wallets, err := provider.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider wallets: %w", err)
	}
	byAddress := indexByAddress(wallets)

	report := &BackfillReport{Scanned: len(missing)}
	for _, uw := range missing {
		w, err := matchAddress(byAddress, uw.Address)
		switch {
		case errors.Is(err, ErrAmbiguousAddress):
			d.logger.Warn("Skipping ambiguous wallet address",
				slog.String("user_id", uw.UserID),
				slog.String("address", uw.Address),
			)
			report.Ambiguous = append(report.Ambiguous, uw.UserID)
			continue
		case err != nil:
			report.Unmatched++
			continue
		}

		if !dryRun {
			if err := d.setWalletID(ctx, uw.UserID, w.ID); err != nil {
				return report, err
			}
		}
		report.Updated++

		d.logger.Info("Backfilled custodial wallet id",
			slog.String("user_id", uw.UserID),
			slog.String("wallet_id", w.ID),
			slog.Bool("dry_run", dryRun),
		)
	}

	return report, nil
}

func (d *Directory) setWalletID(ctx context.Context, userID, walletID string) error {
	query := `
		UPDATE user_wallets
		SET custodial_wallet_id = $1,
		    updated_at = NOW()
		WHERE user_id = $2
		  AND (custodial_wallet_id IS NULL OR custodial_wallet_id = '')
	`

	if _, err := d.db.ExecContext(ctx, query, walletID, userID); err != nil {
		return fmt.Errorf("failed to store wallet id: %w", err)
	}
	return nil
}

func indexByAddress(wallets []Wallet) map[string][]Wallet {
	out := make(map[string][]Wallet, len(wallets))
	for _, w := range wallets {
		key := strings.ToLower(w.Address)
		out[key] = append(out[key], w)
	}
	return out
}

func matchAddress(byAddress map[string][]Wallet, address string) (*Wallet, error) {
	matches := byAddress[strings.ToLower(address)]
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no wallet with address %s", domain.ErrWalletResolution, address)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousAddress, address)
	}
}
