package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// Registry implements domain.AssetRegistry over ERC-721 collection
// contracts. The administrative owner is the contract's Ownable owner().
type Registry struct {
	tx *Transactor
}

// NewRegistry creates a Registry that transfers tokens as the transactor's
// operator account.
func NewRegistry(tx *Transactor) *Registry {
	return &Registry{tx: tx}
}

// OwnerOf returns ownerOf(tokenId).
func (r *Registry) OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error) {
	return r.address(ctx, collection, "ownerOf", tokenID)
}

// IsApproved checks getApproved(tokenId) and then isApprovedForAll(owner,
// spender).
func (r *Registry) IsApproved(ctx context.Context, collection common.Address, tokenID *big.Int, owner, spender common.Address) (bool, error) {
	approved, err := r.address(ctx, collection, "getApproved", tokenID)
	if err != nil {
		return false, err
	}
	if approved == spender {
		return true, nil
	}

	out, err := r.tx.call(ctx, collection, erc721ABI, "isApprovedForAll", owner, spender)
	if err != nil {
		return false, err
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, fmt.Errorf("chain: isApprovedForAll returned %T", out[0])
	}
	return ok, nil
}

// AdminOf returns the contract's owner().
func (r *Registry) AdminOf(ctx context.Context, collection common.Address) (common.Address, error) {
	return r.address(ctx, collection, "owner")
}

// Transfer calls safeTransferFrom(from, to, tokenId) and waits for it to be
// mined.
func (r *Registry) Transfer(ctx context.Context, collection common.Address, tokenID *big.Int, from, to common.Address) error {
	_, err := r.tx.send(ctx, collection, erc721ABI, "safeTransferFrom", from, to, tokenID)
	return err
}

func (r *Registry) address(ctx context.Context, contract common.Address, method string, args ...any) (common.Address, error) {
	out, err := r.tx.call(ctx, contract, erc721ABI, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: %s returned %T", method, out[0])
	}
	return addr, nil
}

var _ domain.AssetRegistry = (*Registry)(nil)
