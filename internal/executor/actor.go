package executor

import "fmt"

// ActorKind identifies who signs a transaction
type ActorKind int

const (
	// AIAgent is the backend arbitration key
	AIAgent ActorKind = iota + 1
	// AdminSigner is the optional platform admin key
	AdminSigner
	// CustodialWallet is an end-user wallet held by the wallet provider
	CustodialWallet
)

func (k ActorKind) String() string {
	switch k {
	case AIAgent:
		return "ai_agent"
	case AdminSigner:
		return "admin"
	case CustodialWallet:
		return "custodial_wallet"
	default:
		return fmt.Sprintf("actor(%d)", int(k))
	}
}

// Actor is a logical signer. WalletID is set only for CustodialWallet.
type Actor struct {
	Kind     ActorKind
	WalletID string
}

// AI returns the AI agent actor
func AI() Actor { return Actor{Kind: AIAgent} }

// Admin returns the admin actor
func Admin() Actor { return Actor{Kind: AdminSigner} }

// Custodial returns the actor for a provider-held wallet
func Custodial(walletID string) Actor {
	return Actor{Kind: CustodialWallet, WalletID: walletID}
}

func (a Actor) String() string {
	if a.Kind == CustodialWallet {
		return "wallet:" + a.WalletID
	}
	return a.Kind.String()
}
