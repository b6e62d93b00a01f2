package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/crypto"
)

// MaxBodyBytes bounds the request body read for signature verification.
const MaxBodyBytes = 1 << 20

type callerKey struct{}

// WithCaller returns a copy of ctx carrying the verified caller address.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the verified caller stored by Caller.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

// Caller returns middleware that authenticates the request signer. The
// request must carry the crypto.Header* headers; the signature must recover
// to the claimed address and the timestamp must lie within maxSkew of now.
// A signed request is accepted once: replay remembers it for the whole
// window in which its timestamp stays valid. A nil replay uses a
// MemoryReplayGuard.
func Caller(maxSkew time.Duration, now func() time.Time, replay ReplayGuard) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	// A timestamp is valid from ts-maxSkew to ts+maxSkew.
	window := 2 * maxSkew
	if replay == nil {
		replay = NewMemoryReplayGuard(window)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := r.Header.Get(crypto.HeaderAddress)
			ts := r.Header.Get(crypto.HeaderTimestamp)
			sig := r.Header.Get(crypto.HeaderSignature)
			if claimed == "" || ts == "" || sig == "" {
				writeUnauthorized(w, "missing request signature")
				return
			}
			if !common.IsHexAddress(claimed) {
				writeUnauthorized(w, "malformed caller address")
				return
			}

			unix, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				writeUnauthorized(w, "malformed signature timestamp")
				return
			}
			if skew := now().Sub(time.Unix(unix, 0)); skew > maxSkew || skew < -maxSkew {
				writeUnauthorized(w, "signature timestamp outside allowed window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			if len(body) > MaxBodyBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverCaller(r.Method, r.URL.Path, ts, body, sig)
			if err != nil || signer != common.HexToAddress(claimed) {
				writeUnauthorized(w, "signature does not match caller")
				return
			}

			fresh, err := replay.Claim(r.Context(), replayKey(signer, r.Method, r.URL.Path, ts, body), window)
			if err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
				return
			}
			if !fresh {
				writeUnauthorized(w, "request signature already used")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
		})
	}
}

// replayKey identifies a signed request by signer and signed digest, so a
// re-encoded signature over the same request maps to the same key.
func replayKey(signer common.Address, method, path, ts string, body []byte) string {
	digest := crypto.RequestDigest(method, path, ts, body)
	return "sig:" + strings.ToLower(signer.Hex()) + ":" + hex.EncodeToString(digest)
}

// writeJSONError sends {"error": msg} with the given status.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + strings.ReplaceAll(msg, `"`, `'`) + `"}`))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}
