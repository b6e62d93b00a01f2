package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRegistry is the narrow capability surface the marketplace consumes
// from the external token registry. Transfer may call back into the
// marketplace before it returns.
type AssetRegistry interface {
	// OwnerOf returns the current owner of the token.
	OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error)
	// IsApproved reports whether spender may move the token on behalf of
	// owner, either through a per-token approval or an operator approval.
	IsApproved(ctx context.Context, collection common.Address, tokenID *big.Int, owner, spender common.Address) (bool, error)
	// Transfer moves the token from one party to another, acting as the
	// marketplace.
	Transfer(ctx context.Context, collection common.Address, tokenID *big.Int, from, to common.Address) error
	// AdminOf returns the administrative owner of the collection contract.
	AdminOf(ctx context.Context, collection common.Address) (common.Address, error)
}

// Treasury moves the single fungible unit of value between external parties
// and the marketplace. Pay may call back into the marketplace before it
// returns.
type Treasury interface {
	// Collect takes the value attached to a call from the caller.
	Collect(ctx context.Context, from common.Address, amount *big.Int) error
	// Pay sends value held by the marketplace to a party.
	Pay(ctx context.Context, to common.Address, amount *big.Int) error
}
