package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/veilmarket/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// uint64 amounts are stored as NUMERIC and moved as text so the full range
// survives the round trip; commitments and ciphertexts are BYTEA.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// --- Config ---

func (s *PostgresStore) GetConfig(ctx context.Context) (*model.Config, error) {
	var c model.Config
	var feeBps, marketCount, minLiq string
	err := s.pool.QueryRow(ctx,
		`SELECT admin, oracle, collateral_asset,
		        fee_bps::TEXT, market_count::TEXT, min_liquidity::TEXT, paused
		 FROM protocol_config WHERE singleton = TRUE`).
		Scan(&c.Admin, &c.Oracle, &c.CollateralAsset, &feeBps, &marketCount, &minLiq, &c.Paused)
	if err != nil {
		return nil, notFound(err, "config")
	}
	c.FeeBps = parseU(feeBps)
	c.MarketCount = parseU(marketCount)
	c.MinLiquidity = parseU(minLiq)
	return &c, nil
}

func (s *PostgresStore) PutConfig(ctx context.Context, c *model.Config) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO protocol_config (singleton, admin, oracle, collateral_asset, fee_bps, market_count, min_liquidity, paused)
		 VALUES (TRUE, $1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (singleton) DO UPDATE SET
		   admin = EXCLUDED.admin, oracle = EXCLUDED.oracle,
		   collateral_asset = EXCLUDED.collateral_asset, fee_bps = EXCLUDED.fee_bps,
		   market_count = EXCLUDED.market_count, min_liquidity = EXCLUDED.min_liquidity,
		   paused = EXCLUDED.paused`,
		c.Admin, c.Oracle, c.CollateralAsset, u(c.FeeBps), u(c.MarketCount), u(c.MinLiquidity), c.Paused)
	return err
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, end_time, resolved, outcome, reserves, yes_supply, no_supply, vault, created_at)
		 VALUES ($1::NUMERIC, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		u(m.ID), m.Question, m.EndTime, m.Resolved, string(m.Outcome),
		u(m.Reserves), u(m.YesSupply), u(m.NoSupply), m.Vault, m.CreatedAt)
	return err
}

func (s *PostgresStore) scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var id, reserves, yesSupply, noSupply, outcome string
	err := row.Scan(&id, &m.Question, &m.EndTime, &m.Resolved, &outcome,
		&reserves, &yesSupply, &noSupply, &m.Vault, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ID = parseU(id)
	m.Outcome = model.Outcome(outcome)
	m.Reserves = parseU(reserves)
	m.YesSupply = parseU(yesSupply)
	m.NoSupply = parseU(noSupply)
	return &m, nil
}

const marketCols = `id::TEXT, question, end_time, resolved, outcome,
	reserves::TEXT, yes_supply::TEXT, no_supply::TEXT, vault, created_at`

func (s *PostgresStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	m, err := s.scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1::NUMERIC`, u(id)))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("market %d", id))
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := s.scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketState(ctx context.Context, id, reserves, yesSupply, noSupply uint64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET reserves = $2::NUMERIC, yes_supply = $3::NUMERIC, no_supply = $4::NUMERIC
		 WHERE id = $1::NUMERIC`,
		u(id), u(reserves), u(yesSupply), u(noSupply))
	return err
}

func (s *PostgresStore) ResolveMarket(ctx context.Context, id uint64, outcome model.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET resolved = TRUE, outcome = $2 WHERE id = $1::NUMERIC`,
		u(id), string(outcome))
	return err
}

// --- Privacy positions ---

func (s *PostgresStore) GetPrivacyPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyPosition, error) {
	var p model.PrivacyPosition
	var yesAmount, noAmount string
	var cm []byte
	err := s.pool.QueryRow(ctx,
		`SELECT commitment, yes_amount::TEXT, no_amount::TEXT, redeemed, created_at
		 FROM privacy_positions WHERE market_id = $1::NUMERIC AND commitment = $2`,
		u(marketID), commitment[:]).
		Scan(&cm, &yesAmount, &noAmount, &p.Redeemed, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "privacy position")
	}
	p.MarketID = marketID
	copy(p.Commitment[:], cm)
	p.YesAmount = parseU(yesAmount)
	p.NoAmount = parseU(noAmount)
	return &p, nil
}

func (s *PostgresStore) PutPrivacyPosition(ctx context.Context, p *model.PrivacyPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO privacy_positions (market_id, commitment, yes_amount, no_amount, redeemed, created_at)
		 VALUES ($1::NUMERIC, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (market_id, commitment) DO UPDATE SET
		   yes_amount = EXCLUDED.yes_amount, no_amount = EXCLUDED.no_amount,
		   redeemed = EXCLUDED.redeemed`,
		u(p.MarketID), p.Commitment[:], u(p.YesAmount), u(p.NoAmount), p.Redeemed, p.CreatedAt)
	return err
}

// --- Shielded positions ---

func (s *PostgresStore) CreateShieldedPosition(ctx context.Context, p *model.ShieldedPosition) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO shielded_positions (market_id, commitment, direction_cipher, shielded_amount, collateral_deposited, redeemed, created_at)
		 VALUES ($1::NUMERIC, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (market_id, commitment) DO NOTHING`,
		u(p.MarketID), p.Commitment[:], p.DirectionCipher[:],
		u(p.ShieldedAmount), u(p.CollateralDeposited), p.Redeemed, p.CreatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("shielded position: %w", ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetShieldedPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.ShieldedPosition, error) {
	var p model.ShieldedPosition
	var amount, deposited string
	var cm, cipher []byte
	err := s.pool.QueryRow(ctx,
		`SELECT commitment, direction_cipher, shielded_amount::TEXT, collateral_deposited::TEXT, redeemed, created_at
		 FROM shielded_positions WHERE market_id = $1::NUMERIC AND commitment = $2`,
		u(marketID), commitment[:]).
		Scan(&cm, &cipher, &amount, &deposited, &p.Redeemed, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "shielded position")
	}
	p.MarketID = marketID
	copy(p.Commitment[:], cm)
	copy(p.DirectionCipher[:], cipher)
	p.ShieldedAmount = parseU(amount)
	p.CollateralDeposited = parseU(deposited)
	return &p, nil
}

func (s *PostgresStore) MarkShieldedRedeemed(ctx context.Context, marketID uint64, commitment [32]byte) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE shielded_positions SET redeemed = TRUE
		 WHERE market_id = $1::NUMERIC AND commitment = $2`,
		u(marketID), commitment[:])
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("shielded position: %w", ErrNotFound)
	}
	return nil
}

// --- Confidential positions ---

func (s *PostgresStore) CreateConfidentialPosition(ctx context.Context, p *model.ConfidentialPosition) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO confidential_positions (market_id, commitment, encrypted_direction, collateral_deposited, executor, created_at)
		 VALUES ($1::NUMERIC, $2, $3, $4::NUMERIC, $5, $6)
		 ON CONFLICT (market_id, commitment) DO NOTHING`,
		u(p.MarketID), p.Commitment[:], p.EncryptedDirection,
		u(p.CollateralDeposited), p.Executor, p.CreatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("confidential position: %w", ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetConfidentialPosition(ctx context.Context, marketID uint64, commitment [32]byte) (*model.ConfidentialPosition, error) {
	var p model.ConfidentialPosition
	var deposited string
	var cm []byte
	err := s.pool.QueryRow(ctx,
		`SELECT commitment, encrypted_direction, collateral_deposited::TEXT, executor, created_at
		 FROM confidential_positions WHERE market_id = $1::NUMERIC AND commitment = $2`,
		u(marketID), commitment[:]).
		Scan(&cm, &p.EncryptedDirection, &deposited, &p.Executor, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "confidential position")
	}
	p.MarketID = marketID
	copy(p.Commitment[:], cm)
	p.CollateralDeposited = parseU(deposited)
	return &p, nil
}

// --- Encrypted market state ---

func (s *PostgresStore) CreateEncryptedState(ctx context.Context, st *model.EncryptedMarketState) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO encrypted_market_states (market_id, encrypted_reserves, encrypted_yes_supply, encrypted_no_supply, encryption_key, created_at)
		 VALUES ($1::NUMERIC, $2, $3, $4, $5, $6)
		 ON CONFLICT (market_id) DO NOTHING`,
		u(st.MarketID), st.EncryptedReserves[:], st.EncryptedYesSupply[:],
		st.EncryptedNoSupply[:], st.EncryptionKey[:], st.CreatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("encrypted state %d: %w", st.MarketID, ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetEncryptedState(ctx context.Context, marketID uint64) (*model.EncryptedMarketState, error) {
	var st model.EncryptedMarketState
	var reserves, yes, no, key []byte
	err := s.pool.QueryRow(ctx,
		`SELECT encrypted_reserves, encrypted_yes_supply, encrypted_no_supply, encryption_key, created_at
		 FROM encrypted_market_states WHERE market_id = $1::NUMERIC`, u(marketID)).
		Scan(&reserves, &yes, &no, &key, &st.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("encrypted state %d", marketID))
	}
	st.MarketID = marketID
	copy(st.EncryptedReserves[:], reserves)
	copy(st.EncryptedYesSupply[:], yes)
	copy(st.EncryptedNoSupply[:], no)
	copy(st.EncryptionKey[:], key)
	return &st, nil
}

func (s *PostgresStore) UpdateEncryptedState(ctx context.Context, st *model.EncryptedMarketState) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE encrypted_market_states
		 SET encrypted_reserves = $2, encrypted_yes_supply = $3, encrypted_no_supply = $4
		 WHERE market_id = $1::NUMERIC`,
		u(st.MarketID), st.EncryptedReserves[:], st.EncryptedYesSupply[:], st.EncryptedNoSupply[:])
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("encrypted state %d: %w", st.MarketID, ErrNotFound)
	}
	return nil
}

// --- Privacy claims ---

func (s *PostgresStore) CreateClaim(ctx context.Context, c *model.PrivacyClaim) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO privacy_claims (market_id, commitment, amount, nonce, lock_until, redeemed, vault, created_at)
		 VALUES ($1::NUMERIC, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8)
		 ON CONFLICT (market_id, commitment) DO NOTHING`,
		u(c.MarketID), c.Commitment[:], u(c.Amount), u(c.Nonce),
		c.LockUntil, c.Redeemed, c.Vault, c.CreatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("claim: %w", ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, marketID uint64, commitment [32]byte) (*model.PrivacyClaim, error) {
	var c model.PrivacyClaim
	var amount, nonce string
	var cm []byte
	err := s.pool.QueryRow(ctx,
		`SELECT commitment, amount::TEXT, nonce::TEXT, lock_until, redeemed, vault, created_at
		 FROM privacy_claims WHERE market_id = $1::NUMERIC AND commitment = $2`,
		u(marketID), commitment[:]).
		Scan(&cm, &amount, &nonce, &c.LockUntil, &c.Redeemed, &c.Vault, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "claim")
	}
	c.MarketID = marketID
	copy(c.Commitment[:], cm)
	c.Amount = parseU(amount)
	c.Nonce = parseU(nonce)
	return &c, nil
}

func (s *PostgresStore) UpdateClaim(ctx context.Context, c *model.PrivacyClaim) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE privacy_claims
		 SET amount = $3::NUMERIC, lock_until = $4, redeemed = $5
		 WHERE market_id = $1::NUMERIC AND commitment = $2`,
		u(c.MarketID), c.Commitment[:], u(c.Amount), c.LockUntil, c.Redeemed)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("claim: %w", ErrNotFound)
	}
	return nil
}

// --- Event ledger ---

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.LedgerEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_events (id, market_id, kind, commitment, side, amount, price, timestamp)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		e.ID, u(e.MarketID), e.Kind, e.Commitment, string(e.Side),
		u(e.Amount), e.Price.String(), e.Timestamp)
	return err
}

func (s *PostgresStore) GetEventsByMarket(ctx context.Context, marketID uint64) ([]model.LedgerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, commitment, side, amount::TEXT, price::TEXT, timestamp
		 FROM ledger_events WHERE market_id = $1::NUMERIC ORDER BY timestamp`, u(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.LedgerEvent
	for rows.Next() {
		var e model.LedgerEvent
		var side, amount, price string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Commitment, &side, &amount, &price, &e.Timestamp); err != nil {
			return nil, err
		}
		e.MarketID = marketID
		e.Side = model.Side(side)
		e.Amount = parseU(amount)
		e.Price, _ = decimal.NewFromString(price)
		events = append(events, e)
	}
	return events, rows.Err()
}
