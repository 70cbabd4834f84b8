package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// One connection serializes every transaction in-process, which is what
	// makes Admit's check-and-reserve atomic.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS entitlement_codes (
        code TEXT PRIMARY KEY,
        claimed_by INTEGER,
        claimed_at INTEGER
    )`,
		`CREATE TABLE IF NOT EXISTS user_quotas (
        user_id INTEGER PRIMARY KEY,
        claimed_code TEXT,
        accounts_used INTEGER NOT NULL DEFAULT 0,
        accounts_reserved INTEGER NOT NULL DEFAULT 0,
        last_request_at INTEGER NOT NULL DEFAULT 0
    )`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureCodes inserts the configured pool. Existing rows, claimed or not,
// are left untouched.
func (s *Store) EnsureCodes(ctx context.Context, codes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Infra("ensure codes", err)
	}
	defer tx.Rollback()

	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entitlement_codes(code) VALUES(?)`, normalizeCode(code)); err != nil {
			return model.Infra("ensure codes", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Infra("ensure codes", err)
	}
	return nil
}

// Claim reports whether this caller won the code. The winner's quota row is
// created in the same transaction.
func (s *Store) Claim(ctx context.Context, code string, userID model.UserID, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, model.Infra("claim", err)
	}
	defer tx.Rollback()

	won, err := claimTx(ctx, tx, normalizeCode(code), userID, now)
	if err != nil {
		return false, model.Infra("claim", err)
	}
	if err := tx.Commit(); err != nil {
		return false, model.Infra("claim", err)
	}
	return won, nil
}

// claimTx is the single conditional write on a code. On a win it records the
// code on the user's quota row unless the row already holds one.
func claimTx(ctx context.Context, tx *sql.Tx, code string, userID model.UserID, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE entitlement_codes SET claimed_by = ?, claimed_at = ?
    WHERE code = ? AND claimed_by IS NULL`, int64(userID), now.UnixMilli(), code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO user_quotas(user_id, claimed_code) VALUES(?, ?)
    ON CONFLICT(user_id) DO UPDATE SET claimed_code = excluded.claimed_code
    WHERE user_quotas.claimed_code IS NULL OR user_quotas.claimed_code = ''`, int64(userID), code)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClaimFor claims code for userID and creates the user's quota row in the
// same transaction.
func (s *Store) ClaimFor(ctx context.Context, userID model.UserID, code string, now time.Time) error {
	code = normalizeCode(code)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Infra("claim", err)
	}
	defer tx.Rollback()

	var held sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT claimed_code FROM user_quotas WHERE user_id = ?`, int64(userID)).Scan(&held)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Infra("claim", err)
	}
	if held.Valid && held.String != "" {
		return model.ErrAlreadyEntitled
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM entitlement_codes WHERE code = ?`, code).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrUnknownCode
	}
	if err != nil {
		return model.Infra("claim", err)
	}

	won, err := claimTx(ctx, tx, code, userID, now)
	if err != nil {
		return model.Infra("claim", err)
	}
	if !won {
		return model.ErrClaimConflict
	}

	if err := tx.Commit(); err != nil {
		return model.Infra("claim", err)
	}
	return nil
}

func (s *Store) Code(ctx context.Context, code string) (model.EntitlementCode, error) {
	var claimedBy, claimedAt sql.NullInt64
	out := model.EntitlementCode{Code: normalizeCode(code)}
	err := s.db.QueryRowContext(ctx, `SELECT claimed_by, claimed_at FROM entitlement_codes WHERE code = ?`, out.Code).
		Scan(&claimedBy, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return out, model.ErrUnknownCode
	}
	if err != nil {
		return out, model.Infra("read code", err)
	}
	if claimedBy.Valid {
		id := model.UserID(claimedBy.Int64)
		out.ClaimedBy = &id
	}
	if claimedAt.Valid {
		at := time.UnixMilli(claimedAt.Int64)
		out.ClaimedAt = &at
	}
	return out, nil
}

func (s *Store) Codes(ctx context.Context) ([]model.EntitlementCode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, claimed_by, claimed_at FROM entitlement_codes ORDER BY code`)
	if err != nil {
		return nil, model.Infra("list codes", err)
	}
	defer rows.Close()

	var out []model.EntitlementCode
	for rows.Next() {
		var c model.EntitlementCode
		var claimedBy, claimedAt sql.NullInt64
		if err := rows.Scan(&c.Code, &claimedBy, &claimedAt); err != nil {
			return nil, model.Infra("list codes", err)
		}
		if claimedBy.Valid {
			id := model.UserID(claimedBy.Int64)
			c.ClaimedBy = &id
		}
		if claimedAt.Valid {
			at := time.UnixMilli(claimedAt.Int64)
			c.ClaimedAt = &at
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Infra("list codes", err)
	}
	return out, nil
}

func (s *Store) IsClaimedBy(ctx context.Context, userID model.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entitlement_codes WHERE claimed_by = ? LIMIT 1`, int64(userID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, model.Infra("check entitlement", err)
	}
	return true, nil
}

const quotaColumns = `user_id, claimed_code, accounts_used, accounts_reserved, last_request_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanQuota(row scanner) (model.UserQuota, error) {
	var q model.UserQuota
	var id, last int64
	var code sql.NullString
	if err := row.Scan(&id, &code, &q.AccountsUsed, &q.AccountsReserved, &last); err != nil {
		return q, err
	}
	q.UserID = model.UserID(id)
	q.ClaimedCode = code.String
	if last > 0 {
		q.LastRequestAt = time.UnixMilli(last)
	}
	return q, nil
}

func (s *Store) Quota(ctx context.Context, userID model.UserID) (model.UserQuota, error) {
	q, err := scanQuota(s.db.QueryRowContext(ctx, `SELECT `+quotaColumns+` FROM user_quotas WHERE user_id = ?`, int64(userID)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserQuota{UserID: userID}, model.ErrUnknownUser
	}
	if err != nil {
		return q, model.Infra("read quota", err)
	}
	return q, nil
}

func (s *Store) ListQuotas(ctx context.Context) ([]model.UserQuota, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+quotaColumns+` FROM user_quotas ORDER BY user_id`)
	if err != nil {
		return nil, model.Infra("list quotas", err)
	}
	defer rows.Close()

	var out []model.UserQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, model.Infra("list quotas", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Infra("list quotas", err)
	}
	return out, nil
}

// RecordUsage adds count to the user's counter without any limit check.
// Batches go through Admit and Settle, which do the same add atomically with
// the ceiling check.
func (s *Store) RecordUsage(ctx context.Context, userID model.UserID, count int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_quotas(user_id, accounts_used) VALUES(?, ?)
    ON CONFLICT(user_id) DO UPDATE SET accounts_used = accounts_used + excluded.accounts_used`, int64(userID), count)
	if err != nil {
		return model.Infra("record usage", err)
	}
	return nil
}

// CheckRateLimit allows the request when interval has elapsed since the
// previous allowed one and stamps now as the new last request time. Admit
// applies the same rule inside its reservation transaction.
func (s *Store) CheckRateLimit(ctx context.Context, userID model.UserID, interval time.Duration, now time.Time) (model.RateDecision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RateDecision{}, model.Infra("rate limit", err)
	}
	defer tx.Rollback()

	var last int64
	err = tx.QueryRowContext(ctx, `SELECT last_request_at FROM user_quotas WHERE user_id = ?`, int64(userID)).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.RateDecision{}, model.Infra("rate limit", err)
	}

	if wait := remainingWait(last, interval, now); wait > 0 {
		return model.RateDecision{Allowed: false, Wait: wait}, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO user_quotas(user_id, last_request_at) VALUES(?, ?)
    ON CONFLICT(user_id) DO UPDATE SET last_request_at = excluded.last_request_at`, int64(userID), now.UnixMilli())
	if err != nil {
		return model.RateDecision{}, model.Infra("rate limit", err)
	}
	if err := tx.Commit(); err != nil {
		return model.RateDecision{}, model.Infra("rate limit", err)
	}
	return model.RateDecision{Allowed: true}, nil
}

func remainingWait(lastMs int64, interval time.Duration, now time.Time) time.Duration {
	if lastMs <= 0 {
		return 0
	}
	elapsed := now.UnixMilli() - lastMs
	if elapsed >= interval.Milliseconds() {
		return 0
	}
	return time.Duration(interval.Milliseconds()-elapsed) * time.Millisecond
}

type AdmitRequest struct {
	UserID   model.UserID
	Count    int
	MaxTotal int
	Interval time.Duration
	Now      time.Time
}

// Admit checks entitlement, the total ceiling and the rate limit, then
// reserves Count accounts and stamps the request time, all in one
// transaction. A rejection returns *model.QuotaError and changes nothing.
func (s *Store) Admit(ctx context.Context, req AdmitRequest) (model.UserQuota, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.UserQuota{}, model.Infra("admit", err)
	}
	defer tx.Rollback()

	q, err := scanQuota(tx.QueryRowContext(ctx, `SELECT `+quotaColumns+` FROM user_quotas WHERE user_id = ?`, int64(req.UserID)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserQuota{UserID: req.UserID}, &model.QuotaError{Reason: model.QuotaNotEntitled}
	}
	if err != nil {
		return q, model.Infra("admit", err)
	}
	if !q.Entitled() {
		return q, &model.QuotaError{Reason: model.QuotaNotEntitled}
	}

	committed := q.AccountsUsed + q.AccountsReserved
	if committed+req.Count > req.MaxTotal {
		return q, &model.QuotaError{Reason: model.QuotaTotalLimit, Limit: req.MaxTotal, Used: committed}
	}

	var last int64
	if !q.LastRequestAt.IsZero() {
		last = q.LastRequestAt.UnixMilli()
	}
	if wait := remainingWait(last, req.Interval, req.Now); wait > 0 {
		return q, &model.QuotaError{Reason: model.QuotaRateLimited, Wait: wait}
	}

	_, err = tx.ExecContext(ctx, `UPDATE user_quotas SET accounts_reserved = accounts_reserved + ?, last_request_at = ?
    WHERE user_id = ?`, req.Count, req.Now.UnixMilli(), int64(req.UserID))
	if err != nil {
		return q, model.Infra("admit", err)
	}
	if err := tx.Commit(); err != nil {
		return q, model.Infra("admit", err)
	}

	q.AccountsReserved += req.Count
	q.LastRequestAt = time.UnixMilli(req.Now.UnixMilli())
	return q, nil
}

// Settle converts a drained batch's reservation into recorded usage.
func (s *Store) Settle(ctx context.Context, userID model.UserID, count int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_quotas
    SET accounts_used = accounts_used + ?, accounts_reserved = MAX(accounts_reserved - ?, 0)
    WHERE user_id = ?`, count, count, int64(userID))
	if err != nil {
		return model.Infra("settle", err)
	}
	return nil
}

// ResetQuota zeroes usage and the rate-limit stamp. The claimed code stays.
func (s *Store) ResetQuota(ctx context.Context, userID model.UserID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE user_quotas SET accounts_used = 0, last_request_at = 0 WHERE user_id = ?`, int64(userID))
	if err != nil {
		return model.Infra("reset quota", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Infra("reset quota", err)
	}
	if n == 0 {
		return model.ErrUnknownUser
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
