package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

var (
	collection = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	token      = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// fakeBackend answers view calls from a table keyed by method name and
// records submitted transactions.
type fakeBackend struct {
	mu       sync.Mutex
	abi      abi.ABI
	views    map[string][]any
	sent     []*types.Transaction
	reverted bool
	pending  int // receipt lookups answered with NotFound before success
	estimate error
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	out, ok := f.views[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 90_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, GasUsed: 51_000}, nil
}

func newTransactor(t *testing.T, backend Backend) *Transactor {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return NewTransactor(backend, key, TransactorConfig{
		ChainID:        big.NewInt(1337),
		ReceiptTimeout: time.Second,
		PollInterval:   time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// decode splits a submitted transaction into its method and arguments.
func decode(t *testing.T, parsed abi.ABI, tx *types.Transaction) (string, []any) {
	t.Helper()
	method, err := parsed.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	return method.Name, args
}

func TestRegistryViews(t *testing.T) {
	backend := &fakeBackend{abi: erc721ABI, views: map[string][]any{
		"ownerOf":          {alice},
		"getApproved":      {common.Address{}},
		"isApprovedForAll": {true},
		"owner":            {bob},
	}}
	tx := newTransactor(t, backend)
	reg := NewRegistry(tx)
	ctx := context.Background()

	owner, err := reg.OwnerOf(ctx, collection, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	admin, err := reg.AdminOf(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, bob, admin)

	ok, err := reg.IsApproved(ctx, collection, big.NewInt(7), alice, tx.Address())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistryTokenApproval(t *testing.T) {
	backend := &fakeBackend{abi: erc721ABI, views: map[string][]any{
		"getApproved":      {bob},
		"isApprovedForAll": {false},
	}}
	reg := NewRegistry(newTransactor(t, backend))

	ok, err := reg.IsApproved(context.Background(), collection, big.NewInt(1), alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.IsApproved(context.Background(), collection, big.NewInt(1), alice, alice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryViewRevert(t *testing.T) {
	reg := NewRegistry(newTransactor(t, &fakeBackend{abi: erc721ABI}))
	_, err := reg.OwnerOf(context.Background(), collection, big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ownerOf")
}

func TestRegistryTransfer(t *testing.T) {
	backend := &fakeBackend{abi: erc721ABI, pending: 3}
	tx := newTransactor(t, backend)
	reg := NewRegistry(tx)

	require.NoError(t, reg.Transfer(context.Background(), collection, big.NewInt(42), alice, bob))
	require.Len(t, backend.sent, 1)

	sent := backend.sent[0]
	assert.Equal(t, collection, *sent.To())
	assert.Equal(t, uint64(90_000), sent.Gas())

	name, args := decode(t, erc721ABI, sent)
	assert.Equal(t, "safeTransferFrom", name)
	assert.Equal(t, alice, args[0])
	assert.Equal(t, bob, args[1])
	assert.Equal(t, 0, big.NewInt(42).Cmp(args[2].(*big.Int)))

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), sent)
	require.NoError(t, err)
	assert.Equal(t, tx.Address(), from)
}

func TestRegistryTransferReverted(t *testing.T) {
	backend := &fakeBackend{abi: erc721ABI, reverted: true}
	reg := NewRegistry(newTransactor(t, backend))

	err := reg.Transfer(context.Background(), collection, big.NewInt(1), alice, bob)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
}

func TestRegistryTransferEstimateFails(t *testing.T) {
	backend := &fakeBackend{abi: erc721ABI, estimate: errors.New("execution reverted")}
	reg := NewRegistry(newTransactor(t, backend))

	err := reg.Transfer(context.Background(), collection, big.NewInt(1), alice, bob)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Empty(t, backend.sent)
}

func TestReceiptTimeout(t *testing.T) {
	backend := &fakeBackend{abi: erc721ABI, pending: 1 << 30}
	tx := newTransactor(t, backend)
	tx.cfg.ReceiptTimeout = 20 * time.Millisecond

	err := NewRegistry(tx).Transfer(context.Background(), collection, big.NewInt(1), alice, bob)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTreasury(t *testing.T) {
	backend := &fakeBackend{abi: erc20ABI, views: map[string][]any{
		"balanceOf": {big.NewInt(5000)},
	}}
	tx := newTransactor(t, backend)
	treasury := NewTreasury(tx, token)
	ctx := context.Background()

	require.NoError(t, treasury.Collect(ctx, alice, big.NewInt(1200)))
	require.NoError(t, treasury.Pay(ctx, bob, big.NewInt(300)))
	require.NoError(t, treasury.Pay(ctx, bob, big.NewInt(0)))
	require.Len(t, backend.sent, 2)

	name, args := decode(t, erc20ABI, backend.sent[0])
	assert.Equal(t, "transferFrom", name)
	assert.Equal(t, alice, args[0])
	assert.Equal(t, tx.Address(), args[1])
	assert.Equal(t, "1200", args[2].(*big.Int).String())

	name, args = decode(t, erc20ABI, backend.sent[1])
	assert.Equal(t, "transfer", name)
	assert.Equal(t, bob, args[0])
	assert.Equal(t, "300", args[1].(*big.Int).String())
	assert.Equal(t, uint64(1), backend.sent[1].Nonce())

	held, err := treasury.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5000", held.String())
}

func TestTreasuryPayReverted(t *testing.T) {
	backend := &fakeBackend{abi: erc20ABI, reverted: true}
	treasury := NewTreasury(newTransactor(t, backend), token)

	err := treasury.Pay(context.Background(), bob, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrTransferFailed)
}
