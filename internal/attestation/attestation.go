// Package attestation records completed compliance analyses against a
// simulated ledger, signed by the connected wallet session when it can sign.
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/pagination"
	"github.com/mbd888/masumiguard/internal/wallet"
)

var (
	ErrNoWalletConnected = errors.New("attestation: no wallet connected")
	ErrNoResult          = errors.New("attestation: no analysis result to attest")
	ErrNotFound          = errors.New("attestation: not found")
)

// SimulatedPrefix starts every simulated ledger transaction id.
const SimulatedPrefix = "simulated_onchain_tx_"

// simulatedIDLength is the number of base36 characters after the prefix.
const simulatedIDLength = 8

// Record is the immutable outcome of one attestation.
type Record struct {
	SimulatedTxID   string               `json:"simulatedTxId"`
	TxHash          string               `json:"txHash"`
	ComplianceScore int                  `json:"complianceScore"`
	RiskLevel       compliance.RiskLevel `json:"riskLevel"`
	WalletKey       string               `json:"walletKey"`
	WalletAddress   string               `json:"walletAddress"`
	PayloadHash     string               `json:"payloadHash"`
	Signature       string               `json:"signature,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
}

// Signed reports whether the record carries a wallet signature.
func (r *Record) Signed() bool {
	return r != nil && r.Signature != ""
}

// Backend writes a record to the ledger, assigning its SimulatedTxID.
type Backend interface {
	Write(ctx context.Context, rec *Record) error
}

// Store persists attestation records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit records, newest first, strictly after the
	// cursor position when one is given.
	List(ctx context.Context, limit int, after *pagination.Cursor) ([]*Record, error)
}

// payload is the canonical struct hashed for signing.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type payload struct {
	ComplianceScore int    `json:"complianceScore"`
	RiskLevel       string `json:"riskLevel"`
	TxHash          string `json:"txHash"`
	WalletAddress   string `json:"walletAddress"`
	WalletKey       string `json:"walletKey"`
}

func payloadOf(rec *Record) payload {
	return payload{
		ComplianceScore: rec.ComplianceScore,
		RiskLevel:       string(rec.RiskLevel),
		TxHash:          rec.TxHash,
		WalletAddress:   strings.ToLower(rec.WalletAddress),
		WalletKey:       rec.WalletKey,
	}
}

// Digest returns the Keccak-256 hash of the record's canonical payload.
func Digest(rec *Record) ([]byte, error) {
	data, err := json.Marshal(payloadOf(rec))
	if err != nil {
		return nil, fmt.Errorf("attestation: marshal payload: %w", err)
	}
	return crypto.Keccak256(data), nil
}

// Verify recomputes the payload hash and, for signed records, checks that
// the signature was produced by WalletAddress.
func Verify(rec *Record) (bool, error) {
	if rec == nil {
		return false, ErrNotFound
	}
	digest, err := Digest(rec)
	if err != nil {
		return false, err
	}
	if hexutil.Encode(digest) != rec.PayloadHash {
		return false, nil
	}
	if !rec.Signed() {
		return true, nil
	}
	sig, err := hexutil.Decode(rec.Signature)
	if err != nil {
		return false, fmt.Errorf("attestation: decode signature: %w", err)
	}
	signer, err := wallet.RecoverAddress(digest, sig)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(signer, rec.WalletAddress), nil
}
