package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// Wallet is a custodial signing identity held by the wallet provider
type Wallet struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// Provider is the signer-as-a-service collaborator. Key custody is opaque:
// transactions are sent unsigned and come back signed.
type Provider interface {
	FetchWallet(ctx context.Context, walletID string) (*Wallet, error)
	SignTransaction(ctx context.Context, walletID string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	ListWallets(ctx context.Context) ([]Wallet, error)
}
