package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/server/middleware"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a request-level error that is not a market rejection.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: "bad_request"})
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_state":
		return http.StatusConflict
	case "invalid_value":
		return http.StatusUnprocessableEntity
	case "not_approved":
		return http.StatusPreconditionFailed
	case "reentrant":
		return http.StatusLocked
	case "insufficient_funds":
		return http.StatusPaymentRequired
	case "not_found":
		return http.StatusNotFound
	case "transfer_failed":
		return http.StatusBadGateway
	case "busy":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps err to a status and code. Market rejections return
// their reason; anything else is logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := statusFor(code)

	var me *domain.MarketError
	switch {
	case errors.As(err, &me):
		writeJSON(w, status, errorResponse{Error: me.Reason, Code: code})
	case status == http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse{Error: "internal error", Code: code})
	default:
		writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
	}
}

// decodeJSON decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, middleware.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// parseAddress parses a 0x-prefixed hex address.
func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a uint256 written in decimal or 0x-prefixed hex.
func parseAmount(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, digits = 16, s[2:]
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok || strings.ContainsAny(digits, "+-_") {
		return nil, fmt.Errorf("%s: %q is not an unsigned integer", field, s)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("%s exceeds uint256", field)
	}
	return v, nil
}

// parseItem reads the {collection} and {token} path values.
func parseItem(r *http.Request) (domain.Item, error) {
	collection, err := parseAddress("collection", r.PathValue("collection"))
	if err != nil {
		return domain.Item{}, err
	}
	tokenID, err := parseAmount("token", r.PathValue("token"))
	if err != nil {
		return domain.Item{}, err
	}
	return domain.NewItem(collection, tokenID), nil
}

// callFrom builds the domain.Call for a signed request.
func callFrom(r *http.Request, value *big.Int) (domain.Call, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return domain.Call{}, false
	}
	return domain.Call{Caller: caller, Value: value}, true
}
