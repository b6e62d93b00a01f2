package postgres

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

func TestWindowQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	query, args := windowQuery("SELECT x FROM t WHERE 1=1", domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT x FROM t WHERE 1=1 AND created_at >= $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", query)
	assert.Equal(t, []any{since, 10, 20}, args)

	query, args = windowQuery("SELECT x FROM t WHERE 1=1", domain.ListOpts{})
	assert.Equal(t, "SELECT x FROM t WHERE 1=1 ORDER BY created_at DESC", query)
	assert.Empty(t, args)

	actor := formatAddress(common.HexToAddress("0x000000000000000000000000000000000000a11c"))
	query, args = windowQuery("SELECT x FROM audit_log WHERE actor = $1", domain.ListOpts{Since: &since, Limit: 5}, actor)
	assert.Equal(t, "SELECT x FROM audit_log WHERE actor = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3", query)
	assert.Equal(t, []any{actor, since, 5}, args)
}

func TestAmountRoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	got, err := parseAmount(amountText(huge))
	require.NoError(t, err)
	assert.Zero(t, huge.Cmp(got))

	assert.Equal(t, "0", amountText(nil))
	assert.Nil(t, nullableAmount(nil))

	v, err := parseNullableAmount(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseAmount("12.5")
	require.Error(t, err)
}

func TestAddressText(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	assert.Equal(t, "", formatAddress(common.Address{}))
	assert.Equal(t, common.Address{}, parseAddress(""))
	assert.Equal(t, addr, parseAddress(formatAddress(addr)))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/market?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "market"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_market.sql"}, names)
}

func TestSelectQueryLocksOnlyWriteTransactions(t *testing.T) {
	const q = "SELECT amount::text FROM pending_balances WHERE party = $1"

	write := &marketTx{lockRows: true}
	assert.Equal(t, q+" FOR UPDATE", write.selectQuery(q))

	read := &marketTx{}
	assert.Equal(t, q, read.selectQuery(q))
}
