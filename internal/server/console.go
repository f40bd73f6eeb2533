package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/masumiguard/internal/analysis"
	"github.com/mbd888/masumiguard/internal/attestation"
	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/gamification"
	"github.com/mbd888/masumiguard/internal/pagination"
	"github.com/mbd888/masumiguard/internal/realtime"
	"github.com/mbd888/masumiguard/internal/scoring"
	"github.com/mbd888/masumiguard/internal/validation"
	"github.com/mbd888/masumiguard/internal/wallet"
)

// Messages shown by the console for attestation outcomes.
const (
	connectWalletFirst = "Connect a Cardano wallet first."
	storeFailed        = "Failed to store on-chain. See console for details."
)

const maxListLimit = 200

// detachGrace covers rate limiting and persistence on top of the configured
// scoring timeout or attestation delay.
const detachGrace = 10 * time.Second

// detach keeps the request's values but not its cancellation. Once accepted,
// an analysis or attestation runs to completion even if the client goes away.
func detach(c *gin.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), budget+detachGrace)
}

// -----------------------------------------------------------------------------
// Analysis
// -----------------------------------------------------------------------------

// AnalyzeRequest is the body of POST /v1/analyses.
type AnalyzeRequest struct {
	TxHash        string `json:"txHash"`
	WalletAddress string `json:"walletAddress"`
}

// analyzeHandler handles POST /v1/analyses
func (s *Server) analyzeHandler(c *gin.Context) {
	var body AnalyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be JSON with txHash and walletAddress",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("txHash", body.TxHash, validation.MaxFieldLength),
		validation.MaxLength("walletAddress", body.WalletAddress, validation.MaxFieldLength),
		validation.Printable("txHash", body.TxHash),
		validation.Printable("walletAddress", body.WalletAddress),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"field":   errs[0].Field,
			"message": errs.Error(),
		})
		return
	}

	req := compliance.AnalysisRequest{TxHash: body.TxHash, WalletAddress: body.WalletAddress}
	ctx, cancel := detach(c, s.cfg.ScoringTimeout)
	defer cancel()
	result, err := s.orchestrator.Analyze(ctx, req)
	progress := s.tracker.State()

	var verr *analysis.ValidationError
	var serr *scoring.Error
	switch {
	case err == nil:
		s.realtimeHub.Publish(realtime.EventProgress, newProgressView(progress))
		c.JSON(http.StatusOK, gin.H{
			"result":   result,
			"progress": newProgressView(progress),
		})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"field":   verr.Field,
			"message": verr.Message,
		})
	case errors.Is(err, analysis.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "analysis_in_progress",
			"message": "An analysis is already being submitted",
		})
	case errors.Is(err, analysis.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "shutting_down",
			"message": "The console is shutting down",
		})
	case errors.As(err, &serr) && (serr.Kind == scoring.KindNetwork || serr.Kind == scoring.KindServer):
		s.realtimeHub.Publish(realtime.EventProgress, newProgressView(progress))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   string(serr.Kind),
			"message": serr.UserMessage(),
		})
	default:
		s.realtimeHub.Publish(realtime.EventProgress, newProgressView(progress))
		snap := s.orchestrator.Snapshot()
		msg := snap.ErrorMessage
		if msg == "" {
			msg = err.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(scoring.KindUnclassified),
			"message": msg,
		})
	}
}

// snapshotHandler handles GET /v1/analysis
func (s *Server) snapshotHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Snapshot())
}

// acknowledgeHandler handles POST /v1/analysis/ack
func (s *Server) acknowledgeHandler(c *gin.Context) {
	s.orchestrator.Acknowledge()
	c.JSON(http.StatusOK, s.orchestrator.Snapshot())
}

// summaryHandler handles GET /v1/analysis/summary
func (s *Server) summaryHandler(c *gin.Context) {
	result, _, ok := s.orchestrator.Result()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_result",
			"message": "Run an analysis first",
		})
		return
	}
	summary := analysis.Summary(result, s.now())
	if c.Query("format") == "text" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(summary))
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "txHash": result.TxHash})
}

// -----------------------------------------------------------------------------
// Wallets
// -----------------------------------------------------------------------------

// listWalletsHandler handles GET /v1/wallets
func (s *Server) listWalletsHandler(c *gin.Context) {
	wallets := s.wallets.Discovered()
	if c.Query("refresh") == "true" {
		wallets = s.wallets.Discover()
	}
	c.JSON(http.StatusOK, gin.H{
		"wallets": wallets,
		"count":   len(wallets),
	})
}

// connectWalletHandler handles POST /v1/wallets/:key/connect
func (s *Server) connectWalletHandler(c *gin.Context) {
	key := c.Param("key")
	capability, err := s.wallets.Connect(c.Request.Context(), key)

	var xerr *wallet.ExtensionError
	switch {
	case err == nil:
		s.realtimeHub.Publish(realtime.EventWallet, gin.H{"connected": capability})
		c.JSON(http.StatusOK, gin.H{"wallet": capability})
	case errors.Is(err, wallet.ErrWalletUnavailable):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "wallet_unavailable",
			"message": "Wallet " + key + " is not available on this host",
		})
	case errors.Is(err, wallet.ErrConnectInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "connect_in_progress",
			"message": "Another wallet connection is in progress",
		})
	case errors.As(err, &xerr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "extension_error",
			"message": xerr.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}

// connectedWalletHandler handles GET /v1/wallets/connected
func (s *Server) connectedWalletHandler(c *gin.Context) {
	capability, ok := s.wallets.Connected()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_connected",
			"message": connectWalletFirst,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": capability, "canSign": capability.CanSign()})
}

// disconnectWalletHandler handles DELETE /v1/wallets/connected
func (s *Server) disconnectWalletHandler(c *gin.Context) {
	s.wallets.Disconnect()
	s.realtimeHub.Publish(realtime.EventWallet, gin.H{"connected": nil})
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Attestations
// -----------------------------------------------------------------------------

// attestHandler handles POST /v1/attestations. Each completed analysis can be
// attested once.
func (s *Server) attestHandler(c *gin.Context) {
	result, gen, _ := s.orchestrator.Result()
	capability, _ := s.wallets.Connected()

	s.attestMu.Lock()
	if result != nil && (s.attestedGen == gen || s.attestInFlight == gen) {
		s.attestMu.Unlock()
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_attested",
			"message": "This analysis has already been stored on-chain",
		})
		return
	}
	if result != nil && capability != nil {
		s.attestInFlight = gen
	}
	s.attestMu.Unlock()

	ctx, cancel := detach(c, s.cfg.AttestationDelay)
	defer cancel()
	rec, err := s.submitter.Submit(ctx, result, capability)

	s.attestMu.Lock()
	if s.attestInFlight == gen {
		s.attestInFlight = 0
	}
	if err == nil {
		s.attestedGen = gen
	}
	s.attestMu.Unlock()

	switch {
	case err == nil:
		s.realtimeHub.Publish(realtime.EventAttestation, rec)
		c.JSON(http.StatusCreated, gin.H{
			"attestation": rec,
			"status":      "Stored on-chain. Transaction: " + rec.SimulatedTxID,
		})
	case errors.Is(err, attestation.ErrNoResult):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_result",
			"message": "Run an analysis first",
		})
	case errors.Is(err, attestation.ErrNoWalletConnected):
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error":   "no_wallet_connected",
			"message": connectWalletFirst,
		})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "attestation_failed",
			"message": storeFailed,
		})
	}
}

// listAttestationsHandler handles GET /v1/attestations
func (s *Server) listAttestationsHandler(c *gin.Context) {
	limit := attestation.DefaultListLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxListLimit)
		}
	}
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	records, err := s.attestations.List(c.Request.Context(), limit+1, after)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	records, next, hasMore := pagination.ComputePage(records, limit, func(r *attestation.Record) (time.Time, string) {
		return r.CreatedAt, r.SimulatedTxID
	})
	if records == nil {
		records = []*attestation.Record{}
	}

	resp := gin.H{
		"attestations": records,
		"count":        len(records),
		"hasMore":      hasMore,
	}
	if hasMore {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// getAttestationHandler handles GET /v1/attestations/:id
func (s *Server) getAttestationHandler(c *gin.Context) {
	rec, err := s.attestations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, attestation.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Attestation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	verified, err := attestation.Verify(rec)
	resp := gin.H{"attestation": rec, "verified": verified}
	if err != nil {
		resp["verifyError"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Progress and notifications
// -----------------------------------------------------------------------------

// AchievementView is one catalog entry with its unlock status.
type AchievementView struct {
	ID       gamification.AchievementID `json:"id"`
	Label    string                     `json:"label"`
	Unlocked bool                       `json:"unlocked"`
}

// ProgressView is the gamification state as shown by the console.
type ProgressView struct {
	AnalysisCount        int               `json:"analysisCount"`
	ConsecutiveSuccesses int               `json:"consecutiveSuccesses"`
	Achievements         []AchievementView `json:"achievements"`
}

func newProgressView(st gamification.State) ProgressView {
	catalog := gamification.Catalog()
	view := ProgressView{
		AnalysisCount:        st.AnalysisCount,
		ConsecutiveSuccesses: st.ConsecutiveSuccesses,
		Achievements:         make([]AchievementView, 0, len(catalog)),
	}
	for _, a := range catalog {
		view.Achievements = append(view.Achievements, AchievementView{
			ID:       a.ID,
			Label:    a.Label,
			Unlocked: st.Has(a.ID),
		})
	}
	return view
}

// progressHandler handles GET /v1/progress
func (s *Server) progressHandler(c *gin.Context) {
	c.JSON(http.StatusOK, newProgressView(s.tracker.State()))
}

// notificationHandler handles GET /v1/notification
func (s *Server) notificationHandler(c *gin.Context) {
	n, ok := s.notifier.Current()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification": n})
}
