// Package chain implements the asset registry and the treasury against an
// EVM chain: collections are ERC-721 contracts and value moves as an ERC-20
// payment token held by the marketplace operator account.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// Backend is the subset of *ethclient.Client the package uses.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TransactorConfig controls how transactions are submitted and awaited.
type TransactorConfig struct {
	ChainID        *big.Int
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Transactor reads contract state and submits signed transactions from the
// operator account, one at a time.
type Transactor struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	cfg     TransactorConfig
	logger  *slog.Logger

	mu sync.Mutex // serialises nonce allocation and submission
}

// NewTransactor creates a Transactor for the operator key.
func NewTransactor(backend Backend, key *ecdsa.PrivateKey, cfg TransactorConfig, logger *slog.Logger) *Transactor {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Transactor{
		backend: backend,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "chain")),
	}
}

// Address returns the operator account.
func (t *Transactor) Address() common.Address {
	return t.from
}

// call runs a read-only contract method and unpacks its outputs.
func (t *Transactor) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{From: t.from, To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", method, contract.Hex(), err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	return values, nil
}

// send submits a contract call as a transaction and waits until it is mined.
// A reverted transaction yields domain.ErrTransferFailed.
func (t *Transactor) send(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) (common.Hash, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	tx, err := t.submit(ctx, contract, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: %w", method, err)
	}

	receipt, err := t.waitMined(ctx, tx.Hash())
	if err != nil {
		return tx.Hash(), fmt.Errorf("chain: %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash(), fmt.Errorf("chain: %s reverted in %s: %w", method, tx.Hash().Hex(), domain.ErrTransferFailed)
	}

	t.logger.InfoContext(ctx, "transaction mined",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return tx.Hash(), nil
}

func (t *Transactor) submit(ctx context.Context, contract common.Address, data []byte) (*types.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &contract, Data: data})
	if err != nil {
		// Estimation runs the call, so a failure here is a revert.
		return nil, fmt.Errorf("estimate gas: %w: %w", domain.ErrTransferFailed, err)
	}

	tx, err := types.SignNewTx(t.key, t.signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return tx, nil
}

func (t *Transactor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
