// Package api provides the HTTP handlers for the settlement engine: market
// lifecycle, public trading, the private settlement channels, and the
// commitment-reveal payout protocol.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veilmarket/settlement-engine/internal/curve"
	"github.com/veilmarket/settlement-engine/internal/engine"
	"github.com/veilmarket/settlement-engine/internal/model"
	"github.com/veilmarket/settlement-engine/internal/privacy"
	"github.com/veilmarket/settlement-engine/internal/store"
	"github.com/veilmarket/settlement-engine/internal/vault"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	engine  *engine.Service
	privacy *privacy.Service
	store   store.Store
	hub     *WSHub
}

// NewHandler creates the API handler. The hub may be nil when WebSocket
// broadcasting is not needed.
func NewHandler(eng *engine.Service, priv *privacy.Service, st store.Store, hub *WSHub) *Handler {
	h := &Handler{engine: eng, privacy: priv, store: st, hub: hub}
	if hub != nil {
		eng.OnEvent(hub.BroadcastEvent)
		priv.OnEvent(hub.BroadcastEvent)
	}
	return h
}

// Routes mounts all API routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Post("/admin/initialize", h.Initialize)
	r.Post("/admin/pause", h.SetPaused)

	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/price", h.GetPrice)
	r.Get("/markets/{marketID}/history", h.GetHistory)
	r.Post("/markets/{marketID}/resolve", h.Resolve)
	r.Post("/markets/{marketID}/redeem", h.Redeem)

	r.Post("/trade", h.Trade)

	r.Route("/privacy", func(r chi.Router) {
		r.Post("/trade", h.TradePrivacy)
		r.Post("/shielded", h.TradeShielded)
		r.Post("/shielded/reveal", h.RevealShielded)
		r.Post("/confidential", h.TradeConfidential)
		r.Post("/encrypted-state", h.CreateEncryptedState)
		r.Post("/blind-update", h.BlindUpdate)
		r.Post("/compressed", h.CompressPosition)
		r.Post("/claims/init", h.InitClaim)
		r.Post("/claims/redeem", h.RedeemToClaim)
		r.Post("/claims/redeem-position", h.RedeemPositionToClaim)
		r.Post("/claims/claim", h.Claim)
		r.Post("/audit", h.Audit)
	})
}

// --- Request/Response types ---

// InitializeRequest is the JSON body for POST /admin/initialize.
type InitializeRequest struct {
	Admin           string `json:"admin"`
	Oracle          string `json:"oracle"`
	CollateralAsset string `json:"collateral_asset"`
	FeeBps          uint64 `json:"fee_bps"`
	MinLiquidity    uint64 `json:"min_liquidity"`
}

// PauseRequest is the JSON body for POST /admin/pause.
type PauseRequest struct {
	Admin  string `json:"admin"`
	Paused bool   `json:"paused"`
}

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Creator          string    `json:"creator"`
	Question         string    `json:"question"`
	EndTime          time.Time `json:"end_time"`
	InitialLiquidity uint64    `json:"initial_liquidity"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	Trader    string `json:"trader"`
	MarketID  uint64 `json:"market_id"`
	Side      string `json:"side"`   // "YES" or "NO"
	Action    string `json:"action"` // "buy" or "sell"
	Amount    uint64 `json:"amount"` // collateral for buys, tokens for sells
	MinOutput uint64 `json:"min_output"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	MarketID uint64 `json:"market_id"`
	Side     string `json:"side"`
	Action   string `json:"action"`
	Input    uint64 `json:"input"`
	Output   uint64 `json:"output"`
	PriceYes string `json:"price_yes"`
	PriceNo  string `json:"price_no"`
}

// ResolveRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveRequest struct {
	Oracle  string `json:"oracle"`
	Outcome string `json:"outcome"` // "yes" or "no"
}

// RedeemRequest is the JSON body for POST /markets/{id}/redeem.
type RedeemRequest struct {
	Redeemer string `json:"redeemer"`
	Tokens   uint64 `json:"tokens"`
}

// PrivacyTradeRequest is the JSON body for POST /privacy/trade.
type PrivacyTradeRequest struct {
	Funder       string `json:"funder"`
	MarketID     uint64 `json:"market_id"`
	Commitment   string `json:"commitment"` // hex, 32 bytes
	Side         string `json:"side"`
	CollateralIn uint64 `json:"collateral_in"`
	MinTokensOut uint64 `json:"min_tokens_out"`
}

// ShieldedTradeRequest is the JSON body for POST /privacy/shielded.
type ShieldedTradeRequest struct {
	Funder          string `json:"funder"`
	MarketID        uint64 `json:"market_id"`
	Commitment      string `json:"commitment"`
	DirectionCipher string `json:"direction_cipher"`
	Amount          uint64 `json:"amount"`
}

// RevealShieldedRequest is the JSON body for POST /privacy/shielded/reveal.
type RevealShieldedRequest struct {
	MarketID  uint64 `json:"market_id"`
	Secret    string `json:"secret"`
	Recipient string `json:"recipient"`
}

// ConfidentialTradeRequest is the JSON body for POST /privacy/confidential.
type ConfidentialTradeRequest struct {
	Funder             string `json:"funder"`
	MarketID           uint64 `json:"market_id"`
	Commitment         string `json:"commitment"`
	EncryptedDirection string `json:"encrypted_direction"` // hex, opaque
	Amount             uint64 `json:"amount"`
	Executor           string `json:"executor"`
}

// EncryptedStateRequest is the JSON body for POST /privacy/encrypted-state.
type EncryptedStateRequest struct {
	MarketID          uint64 `json:"market_id"`
	EncryptedReserves string `json:"encrypted_reserves"` // hex, 64 bytes
	EncryptionKey     string `json:"encryption_key"`     // hex, 32 bytes
}

// BlindUpdateRequest is the JSON body for POST /privacy/blind-update.
type BlindUpdateRequest struct {
	MarketID       uint64 `json:"market_id"`
	EncryptedDelta string `json:"encrypted_delta"` // hex, 64 bytes
	IsYes          bool   `json:"is_yes"`
}

// CompressRequest is the JSON body for POST /privacy/compressed.
type CompressRequest struct {
	MarketID           uint64 `json:"market_id"`
	OwnerCommitment    string `json:"owner_commitment"`
	EncryptedDirection string `json:"encrypted_direction"`
	Amount             uint64 `json:"amount"`
	ViewKey            string `json:"view_key"`
	Metadata           string `json:"metadata"` // hex
	Proof              string `json:"proof"`    // hex, opaque
}

// InitClaimRequest is the JSON body for POST /privacy/claims/init.
type InitClaimRequest struct {
	MarketID   uint64 `json:"market_id"`
	Commitment string `json:"commitment"`
	Nonce      uint64 `json:"nonce"`
}

// RedeemToClaimRequest is the JSON body for POST /privacy/claims/redeem.
type RedeemToClaimRequest struct {
	MarketID         uint64 `json:"market_id"`
	Tokens           uint64 `json:"tokens"`
	PayoutCommitment string `json:"payout_commitment"`
}

// RedeemPositionRequest is the JSON body for POST /privacy/claims/redeem-position.
type RedeemPositionRequest struct {
	MarketID           uint64 `json:"market_id"`
	PositionCommitment string `json:"position_commitment"`
	PayoutCommitment   string `json:"payout_commitment"`
}

// ClaimRequest is the JSON body for POST /privacy/claims/claim.
type ClaimRequest struct {
	MarketID   uint64 `json:"market_id"`
	Secret     string `json:"secret"`
	Recipient  string `json:"recipient"`
	Nonce      uint64 `json:"nonce"`
	Relayer    string `json:"relayer"`
	RelayerFee uint64 `json:"relayer_fee"`
}

// AuditRequest is the JSON body for POST /privacy/audit. The caller supplies
// the compressed position it holds plus the view key.
type AuditRequest struct {
	Position model.CompressedPosition `json:"position"`
	ViewKey  string                   `json:"view_key"`
}

// --- Lifecycle handlers ---

// Initialize handles POST /api/v1/admin/initialize.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg := model.Config{
		Admin:           req.Admin,
		Oracle:          req.Oracle,
		CollateralAsset: req.CollateralAsset,
		FeeBps:          req.FeeBps,
		MinLiquidity:    req.MinLiquidity,
	}
	if err := h.engine.Initialize(r.Context(), cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// SetPaused handles POST /api/v1/admin/pause.
func (h *Handler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.engine.SetPaused(r.Context(), req.Admin, req.Paused); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

// CreateMarket handles POST /api/v1/markets.
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}
	m, err := h.engine.CreateMarket(r.Context(), req.Creator, req.Question, req.EndTime, req.InitialLiquidity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := h.store.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := h.store.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	yes, no := curve.Prices(m.Reserves, m.YesSupply, m.NoSupply)
	writeJSON(w, http.StatusOK, map[string]string{
		"yes": yes.String(),
		"no":  no.String(),
	})
}

// GetHistory handles GET /api/v1/markets/{marketID}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	events, err := h.store.GetEventsByMarket(r.Context(), id)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.LedgerEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Trade handles POST /api/v1/trade.
func (h *Handler) Trade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	side, ok := parseSide(w, req.Side)
	if !ok {
		return
	}
	if req.Amount == 0 {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	var out uint64
	var err error
	switch req.Action {
	case "buy":
		out, err = h.engine.Buy(r.Context(), req.Trader, req.MarketID, side, req.Amount, req.MinOutput)
	case "sell":
		out, err = h.engine.Sell(r.Context(), req.Trader, req.MarketID, side, req.Amount, req.MinOutput)
	default:
		writeError(w, "action must be buy or sell", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	m, err := h.store.GetMarket(r.Context(), req.MarketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	yes, no := curve.Prices(m.Reserves, m.YesSupply, m.NoSupply)
	writeJSON(w, http.StatusOK, TradeResponse{
		MarketID: req.MarketID,
		Side:     string(side),
		Action:   req.Action,
		Input:    req.Amount,
		Output:   out,
		PriceYes: yes.String(),
		PriceNo:  no.String(),
	})
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var outcome model.Outcome
	switch req.Outcome {
	case "yes":
		outcome = model.OutcomeYes
	case "no":
		outcome = model.OutcomeNo
	default:
		writeError(w, "outcome must be yes or no", http.StatusBadRequest)
		return
	}
	if err := h.engine.Resolve(r.Context(), req.Oracle, id, outcome); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": req.Outcome})
}

// Redeem handles POST /api/v1/markets/{marketID}/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	payout, err := h.engine.Redeem(r.Context(), req.Redeemer, id, req.Tokens)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"payout": payout})
}

// --- Privacy handlers ---

// TradePrivacy handles POST /api/v1/privacy/trade.
func (h *Handler) TradePrivacy(w http.ResponseWriter, r *http.Request) {
	var req PrivacyTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	commitment, ok := parseHex32(w, req.Commitment, "commitment")
	if !ok {
		return
	}
	side, ok := parseSide(w, req.Side)
	if !ok {
		return
	}
	minted, err := h.privacy.TradePrivacy(r.Context(), req.Funder, req.MarketID, commitment, side, req.CollateralIn, req.MinTokensOut)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"tokens_minted": minted})
}

// TradeShielded handles POST /api/v1/privacy/shielded.
func (h *Handler) TradeShielded(w http.ResponseWriter, r *http.Request) {
	var req ShieldedTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	commitment, ok := parseHex32(w, req.Commitment, "commitment")
	if !ok {
		return
	}
	cipher, ok := parseHex32(w, req.DirectionCipher, "direction_cipher")
	if !ok {
		return
	}
	if err := h.privacy.TradeShielded(r.Context(), req.Funder, req.MarketID, commitment, cipher, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "shielded"})
}

// RevealShielded handles POST /api/v1/privacy/shielded/reveal.
func (h *Handler) RevealShielded(w http.ResponseWriter, r *http.Request) {
	var req RevealShieldedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	secret, ok := parseHex32(w, req.Secret, "secret")
	if !ok {
		return
	}
	payout, err := h.privacy.RevealAndRedeem(r.Context(), req.MarketID, secret, req.Recipient)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"payout": payout})
}

// TradeConfidential handles POST /api/v1/privacy/confidential.
func (h *Handler) TradeConfidential(w http.ResponseWriter, r *http.Request) {
	var req ConfidentialTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	commitment, ok := parseHex32(w, req.Commitment, "commitment")
	if !ok {
		return
	}
	encDir, err := hex.DecodeString(req.EncryptedDirection)
	if err != nil {
		writeError(w, "encrypted_direction must be hex", http.StatusBadRequest)
		return
	}
	if err := h.privacy.TradeConfidential(r.Context(), req.Funder, req.MarketID, commitment, encDir, req.Amount, req.Executor); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "confidential"})
}

// CreateEncryptedState handles POST /api/v1/privacy/encrypted-state.
func (h *Handler) CreateEncryptedState(w http.ResponseWriter, r *http.Request) {
	var req EncryptedStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	reserves, err := hex.DecodeString(req.EncryptedReserves)
	if err != nil {
		writeError(w, "encrypted_reserves must be hex", http.StatusBadRequest)
		return
	}
	key, ok := parseHex32(w, req.EncryptionKey, "encryption_key")
	if !ok {
		return
	}
	if err := h.privacy.CreateEncryptedState(r.Context(), req.MarketID, reserves, key); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "encrypted"})
}

// BlindUpdate handles POST /api/v1/privacy/blind-update.
func (h *Handler) BlindUpdate(w http.ResponseWriter, r *http.Request) {
	var req BlindUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	delta, err := hex.DecodeString(req.EncryptedDelta)
	if err != nil {
		writeError(w, "encrypted_delta must be hex", http.StatusBadRequest)
		return
	}
	if err := h.privacy.BlindUpdate(r.Context(), req.MarketID, delta, req.IsYes); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// CompressPosition handles POST /api/v1/privacy/compressed.
func (h *Handler) CompressPosition(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	owner, ok := parseHex32(w, req.OwnerCommitment, "owner_commitment")
	if !ok {
		return
	}
	encDir, ok := parseHex32(w, req.EncryptedDirection, "encrypted_direction")
	if !ok {
		return
	}
	viewKey, ok := parseHex32(w, req.ViewKey, "view_key")
	if !ok {
		return
	}
	metadata, err := hex.DecodeString(req.Metadata)
	if err != nil {
		writeError(w, "metadata must be hex", http.StatusBadRequest)
		return
	}
	proof, err := hex.DecodeString(req.Proof)
	if err != nil {
		writeError(w, "proof must be hex", http.StatusBadRequest)
		return
	}
	pos, err := h.privacy.CompressPosition(r.Context(), req.MarketID, owner, encDir, req.Amount, viewKey, metadata, proof)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// InitClaim handles POST /api/v1/privacy/claims/init.
func (h *Handler) InitClaim(w http.ResponseWriter, r *http.Request) {
	var req InitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	commitment, ok := parseHex32(w, req.Commitment, "commitment")
	if !ok {
		return
	}
	if err := h.privacy.InitClaim(r.Context(), req.MarketID, commitment, req.Nonce); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

// RedeemToClaim handles POST /api/v1/privacy/claims/redeem.
func (h *Handler) RedeemToClaim(w http.ResponseWriter, r *http.Request) {
	var req RedeemToClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	commitment, ok := parseHex32(w, req.PayoutCommitment, "payout_commitment")
	if !ok {
		return
	}
	locked, err := h.privacy.RedeemToClaim(r.Context(), req.MarketID, req.Tokens, commitment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"locked": locked})
}

// RedeemPositionToClaim handles POST /api/v1/privacy/claims/redeem-position.
func (h *Handler) RedeemPositionToClaim(w http.ResponseWriter, r *http.Request) {
	var req RedeemPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	posCommitment, ok := parseHex32(w, req.PositionCommitment, "position_commitment")
	if !ok {
		return
	}
	payoutCommitment, ok := parseHex32(w, req.PayoutCommitment, "payout_commitment")
	if !ok {
		return
	}
	locked, err := h.privacy.RedeemPositionToClaim(r.Context(), req.MarketID, posCommitment, payoutCommitment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"locked": locked})
}

// Claim handles POST /api/v1/privacy/claims/claim.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	secret, ok := parseHex32(w, req.Secret, "secret")
	if !ok {
		return
	}
	payout, err := h.privacy.Claim(r.Context(), req.MarketID, secret, req.Recipient, req.Nonce, req.Relayer, req.RelayerFee)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"payout": payout})
}

// Audit handles POST /api/v1/privacy/audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	viewKey, ok := parseHex32(w, req.ViewKey, "view_key")
	if !ok {
		return
	}
	report, err := h.privacy.Audit(&req.Position, viewKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Helpers ---

func marketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil {
		writeError(w, "invalid market id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func parseSide(w http.ResponseWriter, s string) (model.Side, bool) {
	switch s {
	case "YES":
		return model.SideYes, true
	case "NO":
		return model.SideNo, true
	default:
		writeError(w, "side must be YES or NO", http.StatusBadRequest)
		return "", false
	}
}

func parseHex32(w http.ResponseWriter, s, field string) ([32]byte, bool) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		writeError(w, field+" must be 32 hex-encoded bytes", http.StatusBadRequest)
		return out, false
	}
	copy(out[:], b)
	return out, true
}

// writeServiceError maps domain sentinel errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, engine.ErrAlreadyInitialized),
		errors.Is(err, privacy.ErrAlreadyClaimed):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, privacy.ErrAccessDenied),
		errors.Is(err, privacy.ErrInvalidProof):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, engine.ErrMarketExpired),
		errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, engine.ErrMarketNotResolved),
		errors.Is(err, engine.ErrTooEarly),
		errors.Is(err, engine.ErrProtocolPaused),
		errors.Is(err, engine.ErrNoWinningTokens),
		errors.Is(err, privacy.ErrLockNotElapsed),
		errors.Is(err, privacy.ErrInsufficientReserves),
		errors.Is(err, curve.ErrSlippageExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrBelowMinLiquidity),
		errors.Is(err, privacy.ErrAmountTooSmall),
		errors.Is(err, privacy.ErrCiphertextSize),
		errors.Is(err, curve.ErrInvalidReserves),
		errors.Is(err, curve.ErrArithmeticOverflow),
		errors.Is(err, curve.ErrInsufficientTokens),
		errors.Is(err, curve.ErrNoTokensToMint):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, vault.ErrTransferFailed):
		writeError(w, err.Error(), http.StatusPaymentRequired)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
