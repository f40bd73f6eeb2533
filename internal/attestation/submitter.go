package attestation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/logging"
	"github.com/mbd888/masumiguard/internal/metrics"
	"github.com/mbd888/masumiguard/internal/traces"
	"github.com/mbd888/masumiguard/internal/wallet"
)

// Submitter turns a completed analysis plus a wallet capability into a
// ledger record.
type Submitter struct {
	backend Backend
	clock   clock.Clock
	logger  *slog.Logger
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithSubmitterClock sets the clock used to timestamp records.
func WithSubmitterClock(clk clock.Clock) SubmitterOption {
	return func(s *Submitter) { s.clock = clk }
}

// WithLogger sets the fallback logger.
func WithLogger(logger *slog.Logger) SubmitterOption {
	return func(s *Submitter) { s.logger = logger }
}

// NewSubmitter creates a submitter writing through backend.
func NewSubmitter(backend Backend, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		backend: backend,
		clock:   clock.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit attests result on behalf of capability. A nil capability fails with
// ErrNoWalletConnected before the backend is touched.
func (s *Submitter) Submit(ctx context.Context, result *compliance.AnalysisResult, capability *wallet.Capability) (*Record, error) {
	if result == nil {
		metrics.AttestationsTotal.WithLabelValues("no_result").Inc()
		return nil, ErrNoResult
	}
	if capability == nil {
		metrics.AttestationsTotal.WithLabelValues("no_wallet").Inc()
		return nil, ErrNoWalletConnected
	}

	ctx, span := traces.StartSpan(ctx, "attestation.Submit",
		traces.TxHash(result.TxHash),
		traces.WalletKey(capability.Key),
		traces.Score(result.ComplianceScore),
	)
	defer span.End()
	logger := logging.LOr(ctx, s.logger)

	rec := &Record{
		TxHash:          result.TxHash,
		ComplianceScore: result.ComplianceScore,
		RiskLevel:       result.RiskLevel,
		WalletKey:       capability.Key,
		WalletAddress:   capability.Address,
		CreatedAt:       s.clock.Now().UTC(),
	}

	digest, err := Digest(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payload")
		return nil, err
	}
	rec.PayloadHash = hexutil.Encode(digest)

	if signer, ok := capability.Session.(wallet.Signer); ok {
		sig, err := signer.Sign(ctx, digest)
		if err != nil {
			metrics.AttestationsTotal.WithLabelValues("sign_failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "sign")
			return nil, fmt.Errorf("attestation: sign payload: %w", err)
		}
		rec.Signature = hexutil.Encode(sig)
	}

	if err := s.backend.Write(ctx, rec); err != nil {
		metrics.AttestationsTotal.WithLabelValues("write_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "write")
		logger.Warn("attestation write failed", "tx_hash", rec.TxHash, "wallet", rec.WalletKey, "error", err)
		return nil, fmt.Errorf("attestation: write: %w", err)
	}

	span.SetAttributes(traces.AttestationID(rec.SimulatedTxID))
	metrics.AttestationsTotal.WithLabelValues("success").Inc()
	logger.Info("attestation recorded",
		"id", rec.SimulatedTxID,
		"tx_hash", rec.TxHash,
		"wallet", rec.WalletKey,
		"signed", rec.Signed(),
	)
	return rec, nil
}
