package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// SandboxAssets is the in-process asset registry exposed in sandbox mode.
type SandboxAssets interface {
	SetAdmin(collection, admin common.Address)
	Mint(collection common.Address, tokenID *big.Int, owner common.Address)
	Approve(collection common.Address, tokenID *big.Int, spender common.Address)
	SetApprovalForAll(collection, owner, operator common.Address, approved bool)
}

// SandboxTreasury is the in-process treasury exposed in sandbox mode.
type SandboxTreasury interface {
	Fund(party common.Address, amount *big.Int)
	WalletOf(party common.Address) *big.Int
	Held() *big.Int
}

// SandboxHandler drives the sandbox collaborators so the API can be
// exercised without a chain. Routes sit behind middleware.APIKey.
type SandboxHandler struct {
	assets   SandboxAssets
	treasury SandboxTreasury
	market   common.Address
	logger   *slog.Logger
}

// NewSandboxHandler creates a SandboxHandler. marketAddr is the spender
// approvals are granted to.
func NewSandboxHandler(assets SandboxAssets, treasury SandboxTreasury, marketAddr common.Address, logger *slog.Logger) *SandboxHandler {
	return &SandboxHandler{
		assets:   assets,
		treasury: treasury,
		market:   marketAddr,
		logger:   logger.With(slog.String("handler", "sandbox")),
	}
}

type collectionAdminRequest struct {
	Collection string `json:"collection"`
	Admin      string `json:"admin"`
}

// SetAdmin records the administrative owner of a collection.
// POST /api/sandbox/admin
func (h *SandboxHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	var req collectionAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collection, err := parseAddress("collection", req.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	admin, err := parseAddress("admin", req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.assets.SetAdmin(collection, admin)
	writeJSON(w, http.StatusOK, map[string]string{"collection": collection.Hex(), "admin": admin.Hex()})
}

type mintRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Owner      string `json:"owner"`
	// ApproveMarket also grants the marketplace operator approval.
	ApproveMarket bool `json:"approve_market"`
}

// Mint creates a token owned by owner.
// POST /api/sandbox/mint
func (h *SandboxHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collection, err := parseAddress("collection", req.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseAmount("token_id", req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.assets.Mint(collection, tokenID, owner)
	if req.ApproveMarket {
		h.assets.SetApprovalForAll(collection, owner, h.market, true)
	}
	h.logger.InfoContext(r.Context(), "sandbox token minted",
		slog.String("collection", collection.Hex()),
		slog.String("token_id", tokenID.String()),
		slog.String("owner", owner.Hex()),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"collection": collection.Hex(),
		"token_id":   tokenID.String(),
		"owner":      owner.Hex(),
	})
}

type approveRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Approved   *bool  `json:"approved,omitempty"`
}

// Approve grants the marketplace approval for one token, or for all of
// owner's tokens when token_id is omitted.
// POST /api/sandbox/approve
func (h *SandboxHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collection, err := parseAddress("collection", req.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.TokenID != "" {
		tokenID, err := parseAmount("token_id", req.TokenID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.assets.Approve(collection, tokenID, h.market)
		writeJSON(w, http.StatusOK, map[string]string{"collection": collection.Hex(), "token_id": tokenID.String()})
		return
	}

	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	approved := req.Approved == nil || *req.Approved
	h.assets.SetApprovalForAll(collection, owner, h.market, approved)
	writeJSON(w, http.StatusOK, map[string]any{"collection": collection.Hex(), "owner": owner.Hex(), "approved": approved})
}

type fundRequest struct {
	Party  string `json:"party"`
	Amount string `json:"amount"`
}

// Fund credits a party's sandbox wallet.
// POST /api/sandbox/fund
func (h *SandboxHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	party, err := parseAddress("party", req.Party)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.treasury.Fund(party, amount)
	writeJSON(w, http.StatusOK, map[string]string{
		"party":  party.Hex(),
		"wallet": amountString(h.treasury.WalletOf(party)),
	})
}

// Wallet returns a party's sandbox wallet and the marketplace's holdings.
// GET /api/sandbox/wallets/{party}
func (h *SandboxHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	party, err := parseAddress("party", r.PathValue("party"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"party":  party.Hex(),
		"wallet": amountString(h.treasury.WalletOf(party)),
		"held":   amountString(h.treasury.Held()),
	})
}
