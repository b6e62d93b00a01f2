package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sale() domain.Event {
	return domain.Event{
		Type:       domain.EventTokenBought,
		Collection: common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		TokenID:    big.NewInt(7),
		From:       common.HexToAddress("0x000000000000000000000000000000000000a11c"),
		To:         common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
		Value:      new(big.Int).Mul(big.NewInt(1500), big.NewInt(1e15)),
	}
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())

	require.NoError(t, n.NotifyEvent(context.Background(), sale()))
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventTokenBidEntered}))
	assert.Equal(t, []string{"Item sold"}, s.titles)

	n = NewNotifier([]Sender{s}, []string{" token_bid_entered "}, discard())
	assert.True(t, n.Enabled(domain.EventTokenBidEntered))
	assert.False(t, n.Enabled(domain.EventTokenBought))
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "hello", "world")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"hello"}, good.titles)
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	assert.False(t, n.Enabled(domain.EventTokenBought))
	require.NoError(t, n.NotifyEvent(context.Background(), sale()))
}

func TestFormatEvent(t *testing.T) {
	title, msg := FormatEvent(sale())
	assert.Equal(t, "Item sold", title)
	assert.Equal(t, "0x0000…00c1 #7 sold by 0x0000…a11c to 0x0000…0b0b for 1.5 ETH", msg)

	title, msg = FormatEvent(domain.Event{
		Type:           domain.EventCollectionConfigured,
		Collection:     sale().Collection,
		RoyaltyPercent: 10,
		MetadataURI:    "ipfs://meta",
	})
	assert.Equal(t, "Collection configured", title)
	assert.Equal(t, "0x0000…00c1 enabled with 10% royalty\nipfs://meta", msg)
}

func TestFormatAmount(t *testing.T) {
	cases := map[string]*big.Int{
		"0 ETH":                    nil,
		"2 ETH":                    new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		"0.025 ETH":                big.NewInt(25e15),
		"0.000000000000000001 ETH": big.NewInt(1),
	}
	for want, in := range cases {
		assert.Equal(t, want, FormatAmount(in))
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "Item sold", "details"))

	embeds := got["embeds"].([]any)
	require.Len(t, embeds, 1)
	assert.Equal(t, "Item sold", embeds[0].(map[string]any)["title"])
	assert.Equal(t, "tokenmarket", got["username"])
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
