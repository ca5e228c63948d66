// Package model defines the core domain types shared across the settlement
// engine. Token and collateral amounts use uint64 in the smallest collateral
// unit; display prices use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus is the lifecycle state of a market. Expired is derived from
// the clock, never stored: a market whose end time has passed reports
// StatusExpired without an explicit transition.
type MarketStatus string

const (
	StatusOpen     MarketStatus = "open"
	StatusExpired  MarketStatus = "expired"
	StatusResolved MarketStatus = "resolved"
)

// Outcome is the resolved result of a binary market.
type Outcome string

const (
	OutcomeUnset Outcome = "unset"
	OutcomeYes   Outcome = "yes"
	OutcomeNo    Outcome = "no"
)

// Side maps a resolved outcome to its winning token side. Only meaningful
// after resolution.
func (o Outcome) Side() Side {
	if o == OutcomeYes {
		return SideYes
	}
	return SideNo
}

// Side selects which outcome token a trade targets.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// AccumulationPolicy states what a second trade under an identical commitment
// does for a given position kind. PrivacyPosition accumulates by contract;
// shielded and confidential positions are one-shot, a repeated commitment is
// rejected. The policy is explicit here rather than inferred from behavior.
type AccumulationPolicy string

const (
	// Accumulate sums repeated trades into the existing record.
	Accumulate AccumulationPolicy = "accumulate"
	// OneShot rejects a second trade under the same commitment.
	OneShot AccumulationPolicy = "one-shot"
)

// Market is a binary prediction market priced by the Pythagorean bonding
// curve. Invariant: YesSupply² + NoSupply² never exceeds Reserves².
type Market struct {
	ID        uint64    `json:"id" db:"id"`
	Question  string    `json:"question" db:"question"`
	EndTime   time.Time `json:"end_time" db:"end_time"`
	Resolved  bool      `json:"resolved" db:"resolved"`
	Outcome   Outcome   `json:"outcome" db:"outcome"`
	Reserves  uint64    `json:"reserves" db:"reserves"`
	YesSupply uint64    `json:"yes_supply" db:"yes_supply"`
	NoSupply  uint64    `json:"no_supply" db:"no_supply"`
	Vault     string    `json:"vault" db:"vault"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Status derives the lifecycle state from the clock and the resolved flag.
func (m *Market) Status(now time.Time) MarketStatus {
	if m.Resolved {
		return StatusResolved
	}
	if !now.Before(m.EndTime) {
		return StatusExpired
	}
	return StatusOpen
}

// SupplyFor returns the token supply for one side of the market.
func (m *Market) SupplyFor(side Side) uint64 {
	if side == SideYes {
		return m.YesSupply
	}
	return m.NoSupply
}

// PrivacyPosition is a dark-pool position keyed by (market, entry commitment).
// Balances accumulate across every trade made under the same commitment; the
// record is never deleted: redemption zeroes balances and sets Redeemed so
// the history stays auditable.
type PrivacyPosition struct {
	MarketID   uint64    `json:"market_id" db:"market_id"`
	Commitment [32]byte  `json:"commitment" db:"commitment"`
	YesAmount  uint64    `json:"yes_amount" db:"yes_amount"`
	NoAmount   uint64    `json:"no_amount" db:"no_amount"`
	Redeemed   bool      `json:"redeemed" db:"redeemed"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ShieldedPosition is a blind bet: the direction is stored as a one-time-pad
// cipher that only the secret holder can open. One-shot per commitment.
type ShieldedPosition struct {
	MarketID            uint64    `json:"market_id" db:"market_id"`
	Commitment          [32]byte  `json:"commitment" db:"commitment"`
	DirectionCipher     [32]byte  `json:"direction_cipher" db:"direction_cipher"`
	ShieldedAmount      uint64    `json:"shielded_amount" db:"shielded_amount"`
	CollateralDeposited uint64    `json:"collateral_deposited" db:"collateral_deposited"`
	Redeemed            bool      `json:"redeemed" db:"redeemed"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// ConfidentialPosition stores an opaque encrypted direction produced by an
// external confidential-execution collaborator, plus a plaintext collateral
// counter for vault accounting.
type ConfidentialPosition struct {
	MarketID            uint64    `json:"market_id" db:"market_id"`
	Commitment          [32]byte  `json:"commitment" db:"commitment"`
	EncryptedDirection  []byte    `json:"encrypted_direction" db:"encrypted_direction"`
	CollateralDeposited uint64    `json:"collateral_deposited" db:"collateral_deposited"`
	Executor            string    `json:"executor" db:"executor"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// CompressedPosition is the logical leaf handed to the external merkle-tree
// collaborator; it is not a stored account. The audit commitment binds the
// view key, the entry commitment and the amount for selective disclosure.
type CompressedPosition struct {
	MarketID           uint64    `json:"market_id"`
	OwnerCommitment    [32]byte  `json:"owner_commitment"`
	EncryptedDirection [32]byte  `json:"encrypted_direction"`
	EncryptedMetadata  []byte    `json:"encrypted_metadata"`
	AuditCommitment    [32]byte  `json:"audit_commitment"`
	ViewKeyHash        [32]byte  `json:"view_key_hash"`
	Amount             uint64    `json:"amount"`
	Proof              []byte    `json:"proof"`
	CreatedAt          time.Time `json:"created_at"`
}

// CiphertextSize is the fixed byte length of homomorphic ciphertexts held in
// EncryptedMarketState. Blind updates with any other length are rejected.
const CiphertextSize = 64

// EncryptedMarketState holds per-market reserves as ciphertext. Created once
// per market, mutated only through blind updates; the trading path never
// decrypts it.
type EncryptedMarketState struct {
	MarketID           uint64               `json:"market_id" db:"market_id"`
	EncryptedReserves  [CiphertextSize]byte `json:"encrypted_reserves" db:"encrypted_reserves"`
	EncryptedYesSupply [CiphertextSize]byte `json:"encrypted_yes_supply" db:"encrypted_yes_supply"`
	EncryptedNoSupply  [CiphertextSize]byte `json:"encrypted_no_supply" db:"encrypted_no_supply"`
	EncryptionKey      [32]byte             `json:"encryption_key" db:"encryption_key"`
	CreatedAt          time.Time            `json:"created_at" db:"created_at"`
}

// PrivacyClaim is a two-phase payout record. The commitment binds the secret,
// the literal recipient address, and a nonce; it is created before the secret
// is ever revealed, mutated exactly once at a successful claim, and immutable
// thereafter.
type PrivacyClaim struct {
	MarketID   uint64    `json:"market_id" db:"market_id"`
	Commitment [32]byte  `json:"commitment" db:"commitment"`
	Amount     uint64    `json:"amount" db:"amount"`
	Nonce      uint64    `json:"nonce" db:"nonce"`
	LockUntil  time.Time `json:"lock_until" db:"lock_until"`
	Redeemed   bool      `json:"redeemed" db:"redeemed"`
	Vault      string    `json:"vault" db:"vault"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Config is the protocol configuration singleton. MarketCount is the
// monotonically increasing id sequence, advanced only by market creation.
type Config struct {
	Admin           string `json:"admin" db:"admin"`
	Oracle          string `json:"oracle" db:"oracle"`
	CollateralAsset string `json:"collateral_asset" db:"collateral_asset"`
	FeeBps          uint64 `json:"fee_bps" db:"fee_bps"`
	MarketCount     uint64 `json:"market_count" db:"market_count"`
	MinLiquidity    uint64 `json:"min_liquidity" db:"min_liquidity"`
	Paused          bool   `json:"paused" db:"paused"`
}

// LedgerEvent is an immutable record of a settlement operation. Private
// channels record volume and commitment only, never direction.
type LedgerEvent struct {
	ID         string          `json:"id" db:"id"`
	MarketID   uint64          `json:"market_id" db:"market_id"`
	Kind       string          `json:"kind" db:"kind"`
	Commitment []byte          `json:"commitment,omitempty" db:"commitment"`
	Side       Side            `json:"side,omitempty" db:"side"`
	Amount     uint64          `json:"amount" db:"amount"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// Event kinds recorded on the ledger.
const (
	EventPublicTrade       = "public_trade"
	EventPrivacyTrade      = "privacy_trade"
	EventShieldedTrade     = "shielded_trade"
	EventConfidentialTrade = "confidential_trade"
	EventBlindUpdate       = "blind_update"
	EventResolve           = "resolve"
	EventRedeem            = "redeem"
	EventClaimInit         = "claim_init"
	EventClaim             = "claim"
)
