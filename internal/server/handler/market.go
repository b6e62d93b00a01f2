package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/market"
)

// MarketService is the subset of the service layer the market handler needs.
type MarketService interface {
	ConfigureCollection(ctx context.Context, call domain.Call, collection common.Address, royaltyPercent int, metadataURI string) (market.Receipt, error)
	DisableCollection(ctx context.Context, call domain.Call, collection common.Address) (market.Receipt, error)
	ListItem(ctx context.Context, call domain.Call, item domain.Item, minValue *big.Int) (market.Receipt, error)
	ListItemForAddress(ctx context.Context, call domain.Call, item domain.Item, minValue *big.Int, buyer common.Address) (market.Receipt, error)
	RevokeListing(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error)
	PlaceBid(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error)
	WithdrawBid(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error)
	AcceptOffer(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error)
	AcceptBid(ctx context.Context, call domain.Call, item domain.Item, minPrice *big.Int) (market.Receipt, error)
	Withdraw(ctx context.Context, call domain.Call) (market.Receipt, error)

	Collection(ctx context.Context, addr common.Address) (domain.Collection, error)
	Offer(ctx context.Context, item domain.Item) (domain.Offer, error)
	Bid(ctx context.Context, item domain.Item) (domain.Bid, error)
	PendingBalance(ctx context.Context, party common.Address) (*big.Int, error)
}

// MarketHandler serves the marketplace endpoints. Every mutating route must
// sit behind middleware.Caller.
type MarketHandler struct {
	market MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: svc, logger: logger.With(slog.String("handler", "market"))}
}

type collectionView struct {
	Address        string    `json:"address"`
	Enabled        bool      `json:"enabled"`
	RoyaltyPercent uint8     `json:"royalty_percent"`
	MetadataURI    string    `json:"metadata_uri"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

type offerView struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	ForSale    bool   `json:"for_sale"`
	Seller     string `json:"seller"`
	MinValue   string `json:"min_value"`
	OnlySellTo string `json:"only_sell_to,omitempty"`
}

type bidView struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	HasBid     bool   `json:"has_bid"`
	Bidder     string `json:"bidder"`
	Value      string `json:"value"`
}

type eventView struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Collection     string    `json:"collection,omitempty"`
	TokenID        string    `json:"token_id,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Value          string    `json:"value,omitempty"`
	RoyaltyPercent uint8     `json:"royalty_percent,omitempty"`
	MetadataURI    string    `json:"metadata_uri,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type receiptView struct {
	Op     string      `json:"op"`
	Events []eventView `json:"events"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func toCollectionView(c domain.Collection) collectionView {
	return collectionView{
		Address:        c.Address.Hex(),
		Enabled:        c.Enabled,
		RoyaltyPercent: c.RoyaltyPercent,
		MetadataURI:    c.MetadataURI,
		UpdatedAt:      c.UpdatedAt,
	}
}

func toEventView(e domain.Event) eventView {
	v := eventView{
		ID:             e.ID,
		Type:           string(e.Type),
		Collection:     addressString(e.Collection),
		From:           addressString(e.From),
		To:             addressString(e.To),
		RoyaltyPercent: e.RoyaltyPercent,
		MetadataURI:    e.MetadataURI,
		CreatedAt:      e.CreatedAt,
	}
	if e.TokenID != nil {
		v.TokenID = e.TokenID.String()
	}
	if e.Value != nil {
		v.Value = e.Value.String()
	}
	return v
}

func toReceiptView(r market.Receipt) receiptView {
	events := make([]eventView, len(r.Events))
	for i, e := range r.Events {
		events[i] = toEventView(e)
	}
	return receiptView{Op: r.Op, Events: events}
}

// respond writes the receipt or maps the error.
func (h *MarketHandler) respond(w http.ResponseWriter, r *http.Request, receipt market.Receipt, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptView(receipt))
}

// signedCall returns the caller of a signed request or writes a 401.
func signedCall(w http.ResponseWriter, r *http.Request, value *big.Int) (domain.Call, bool) {
	call, ok := callFrom(r, value)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "request is not signed", Code: "unauthenticated"})
	}
	return call, ok
}

type configureRequest struct {
	RoyaltyPercent int    `json:"royalty_percent"`
	MetadataURI    string `json:"metadata_uri"`
}

// ConfigureCollection enables or reconfigures a collection.
// PUT /api/collections/{collection}
func (h *MarketHandler) ConfigureCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress("collection", r.PathValue("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req configureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, nil)
	if !ok {
		return
	}

	receipt, err := h.market.ConfigureCollection(r.Context(), call, collection, req.RoyaltyPercent, req.MetadataURI)
	h.respond(w, r, receipt, err)
}

// DisableCollection soft-deletes a collection.
// DELETE /api/collections/{collection}
func (h *MarketHandler) DisableCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress("collection", r.PathValue("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, nil)
	if !ok {
		return
	}

	receipt, err := h.market.DisableCollection(r.Context(), call, collection)
	h.respond(w, r, receipt, err)
}

// GetCollection returns a collection's configuration.
// GET /api/collections/{collection}
func (h *MarketHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress("collection", r.PathValue("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.market.Collection(r.Context(), collection)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	c.Address = collection
	writeJSON(w, http.StatusOK, toCollectionView(c))
}

type listRequest struct {
	MinValue   string `json:"min_value"`
	OnlySellTo string `json:"only_sell_to,omitempty"`
}

// ListItem offers an item for sale, optionally to a single buyer.
// POST /api/collections/{collection}/items/{token}/offer
func (h *MarketHandler) ListItem(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req listRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minValue, err := parseAmount("min_value", req.MinValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, nil)
	if !ok {
		return
	}

	if req.OnlySellTo == "" {
		receipt, err := h.market.ListItem(r.Context(), call, item, minValue)
		h.respond(w, r, receipt, err)
		return
	}

	buyer, err := parseAddress("only_sell_to", req.OnlySellTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.market.ListItemForAddress(r.Context(), call, item, minValue, buyer)
	h.respond(w, r, receipt, err)
}

// RevokeListing takes an item off sale.
// DELETE /api/collections/{collection}/items/{token}/offer
func (h *MarketHandler) RevokeListing(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, nil)
	if !ok {
		return
	}

	receipt, err := h.market.RevokeListing(r.Context(), call, item)
	h.respond(w, r, receipt, err)
}

// GetOffer returns the current offer on an item.
// GET /api/collections/{collection}/items/{token}/offer
func (h *MarketHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.market.Offer(r.Context(), item)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, offerView{
		Collection: item.Collection.Hex(),
		TokenID:    item.TokenID.String(),
		ForSale:    o.ForSale,
		Seller:     addressString(o.Seller),
		MinValue:   amountString(o.MinValue),
		OnlySellTo: addressString(o.OnlySellTo),
	})
}

type valueRequest struct {
	Value string `json:"value"`
}

// PlaceBid escrows the attached value as the new best bid.
// POST /api/collections/{collection}/items/{token}/bid
func (h *MarketHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req valueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, value)
	if !ok {
		return
	}

	receipt, err := h.market.PlaceBid(r.Context(), call, item)
	h.respond(w, r, receipt, err)
}

// WithdrawBid cancels the caller's bid.
// DELETE /api/collections/{collection}/items/{token}/bid
func (h *MarketHandler) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, nil)
	if !ok {
		return
	}

	receipt, err := h.market.WithdrawBid(r.Context(), call, item)
	h.respond(w, r, receipt, err)
}

// GetBid returns the current best bid on an item.
// GET /api/collections/{collection}/items/{token}/bid
func (h *MarketHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.market.Bid(r.Context(), item)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bidView{
		Collection: item.Collection.Hex(),
		TokenID:    item.TokenID.String(),
		HasBid:     b.HasBid,
		Bidder:     addressString(b.Bidder),
		Value:      amountString(b.Value),
	})
}

// Buy accepts the item's offer, paying the attached value.
// POST /api/collections/{collection}/items/{token}/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req valueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, value)
	if !ok {
		return
	}

	receipt, err := h.market.AcceptOffer(r.Context(), call, item)
	h.respond(w, r, receipt, err)
}

type sellRequest struct {
	MinPrice string `json:"min_price"`
}

// Sell accepts the item's best bid if it is at least min_price.
// POST /api/collections/{collection}/items/{token}/sell
func (h *MarketHandler) Sell(w http.ResponseWriter, r *http.Request) {
	item, err := parseItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req sellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minPrice, err := parseAmount("min_price", req.MinPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := signedCall(w, r, nil)
	if !ok {
		return
	}

	receipt, err := h.market.AcceptBid(r.Context(), call, item, minPrice)
	h.respond(w, r, receipt, err)
}

// Withdraw pays out the caller's pending balance.
// POST /api/balances/withdraw
func (h *MarketHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	call, ok := signedCall(w, r, nil)
	if !ok {
		return
	}
	receipt, err := h.market.Withdraw(r.Context(), call)
	h.respond(w, r, receipt, err)
}

// GetBalance returns a party's pending balance.
// GET /api/balances/{party}
func (h *MarketHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	party, err := parseAddress("party", r.PathValue("party"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bal, err := h.market.PendingBalance(r.Context(), party)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"party":   party.Hex(),
		"balance": amountString(bal),
	})
}
