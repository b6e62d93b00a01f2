// Package sandbox provides in-process implementations of the asset registry
// and the treasury. They back the sandbox run mode and the test suites, and
// expose hooks that fire in the middle of a transfer or payment.
package sandbox

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// TransferHook runs inside Registry.Transfer after ownership has moved. A
// non-nil error fails the transfer.
type TransferHook func(ctx context.Context, collection common.Address, tokenID *big.Int, from, to common.Address) error

type tokenKey struct {
	collection common.Address
	id         common.Hash
}

type operatorKey struct {
	collection common.Address
	owner      common.Address
	operator   common.Address
}

// Registry is an in-memory multi-collection token registry.
type Registry struct {
	mu        sync.RWMutex
	owners    map[tokenKey]common.Address
	approvals map[tokenKey]common.Address
	operators map[operatorKey]bool
	admins    map[common.Address]common.Address
	onTx      TransferHook
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		owners:    make(map[tokenKey]common.Address),
		approvals: make(map[tokenKey]common.Address),
		operators: make(map[operatorKey]bool),
		admins:    make(map[common.Address]common.Address),
	}
}

func keyOf(collection common.Address, tokenID *big.Int) tokenKey {
	return tokenKey{collection: collection, id: common.BigToHash(tokenID)}
}

// SetAdmin records the administrative owner of a collection.
func (r *Registry) SetAdmin(collection, admin common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[collection] = admin
}

// Mint assigns a token to owner, replacing any previous owner.
func (r *Registry) Mint(collection common.Address, tokenID *big.Int, owner common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(collection, tokenID)
	r.owners[k] = owner
	delete(r.approvals, k)
}

// Approve grants spender a per-token approval. The approval is cleared when
// the token moves.
func (r *Registry) Approve(collection common.Address, tokenID *big.Int, spender common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals[keyOf(collection, tokenID)] = spender
}

// SetApprovalForAll grants or revokes operator rights over every token owner
// holds in collection.
func (r *Registry) SetApprovalForAll(collection, owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := operatorKey{collection: collection, owner: owner, operator: operator}
	if approved {
		r.operators[k] = true
		return
	}
	delete(r.operators, k)
}

// OnTransfer installs a hook invoked during every Transfer. Pass nil to
// remove it.
func (r *Registry) OnTransfer(hook TransferHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTx = hook
}

// OwnerOf returns the owner of the token, or domain.ErrNotFound if it was
// never minted.
func (r *Registry) OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[keyOf(collection, tokenID)]
	if !ok {
		return common.Address{}, fmt.Errorf("sandbox: token %s#%s: %w", collection.Hex(), tokenID, domain.ErrNotFound)
	}
	return owner, nil
}

// IsApproved reports whether spender holds a per-token approval or operator
// rights for owner.
func (r *Registry) IsApproved(ctx context.Context, collection common.Address, tokenID *big.Int, owner, spender common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.approvals[keyOf(collection, tokenID)] == spender {
		return true, nil
	}
	return r.operators[operatorKey{collection: collection, owner: owner, operator: spender}], nil
}

// AdminOf returns the collection's administrative owner.
func (r *Registry) AdminOf(ctx context.Context, collection common.Address) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	admin, ok := r.admins[collection]
	if !ok {
		return common.Address{}, fmt.Errorf("sandbox: collection %s: %w", collection.Hex(), domain.ErrNotFound)
	}
	return admin, nil
}

// Transfer moves a token from one party to another. The hook, if any, runs
// after the move without the registry lock held; if it fails the move is
// undone.
func (r *Registry) Transfer(ctx context.Context, collection common.Address, tokenID *big.Int, from, to common.Address) error {
	k := keyOf(collection, tokenID)

	r.mu.Lock()
	owner, ok := r.owners[k]
	if !ok || owner != from {
		r.mu.Unlock()
		return fmt.Errorf("sandbox: %s#%s not owned by %s: %w", collection.Hex(), tokenID, from.Hex(), domain.ErrTransferFailed)
	}
	prevApproval, hadApproval := r.approvals[k]
	r.owners[k] = to
	delete(r.approvals, k)
	hook := r.onTx
	r.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, collection, tokenID, from, to); err != nil {
		r.mu.Lock()
		r.owners[k] = from
		if hadApproval {
			r.approvals[k] = prevApproval
		}
		r.mu.Unlock()
		return fmt.Errorf("sandbox: transfer hook: %w: %w", domain.ErrTransferFailed, err)
	}
	return nil
}

var _ domain.AssetRegistry = (*Registry)(nil)
