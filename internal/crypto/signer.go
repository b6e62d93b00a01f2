package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Market-Address"
	HeaderTimestamp = "X-Market-Timestamp"
	HeaderSignature = "X-Market-Signature"
)

// ErrBadSignature is returned when a request signature cannot be decoded or
// does not recover to the claimed address.
var ErrBadSignature = errors.New("crypto: bad request signature")

// Signer signs API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKey returns the signer's key, for transaction signing.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

// SignRequest returns the headers that authenticate one request as coming
// from the signer's address.
func (s *Signer) SignRequest(method, path string, unixTS int64, body []byte) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)
	sig, err := s.signDigest(RequestDigest(method, path, ts, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}, nil
}

// RequestDigest is the EIP-191 personal-message hash of
//
//	METHOD \n PATH \n TIMESTAMP \n keccak256(body)
func RequestDigest(method, path, timestamp string, body []byte) []byte {
	msg := strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		ethcrypto.Keccak256Hash(body).Hex(),
	}, "\n")
	return accounts.TextHash([]byte(msg))
}

// RecoverCaller returns the address that produced sigHex over the request.
func RecoverCaller(method, path, timestamp string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, timestamp, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// signDigest signs a 32-byte digest and returns the hex-encoded
// r || s || v signature with v in {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
