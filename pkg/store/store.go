// Package store implements the durable, relational voucher store: the
// record of vouchers, their random tokens, the unblinded tokens redeemed
// for them, and lease-maintenance activity, backed by SQLite through the
// pure-Go modernc.org/sqlite driver (no cgo, matching how this backend is
// used elsewhere in the retrieved example pack).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/privatestorage/zkapauthorizer/pkg/voucher"
)

// ErrSchemaVersion is returned by Open when the database's recorded
// schema_version does not match CurrentSchemaVersion.
var ErrSchemaVersion = errors.New("store: schema version mismatch")

// ErrNotFound is returned by Get when no voucher with the given number
// exists.
var ErrNotFound = errors.New("store: not found")

// ErrOpen wraps a failure to create the store's backing directory or
// open its database file.
type ErrOpen struct {
	Path  string
	Cause error
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("store: opening %s: %v", e.Path, e.Cause)
}

func (e *ErrOpen) Unwrap() error { return e.Cause }

// Clock returns the current time; it is a seam for deterministic tests,
// the same pattern the teacher's internal/testchain uses for injected
// time.
type Clock func() time.Time

// Store is a durable, relational record of vouchers, random tokens, and
// redeemed unblinded tokens.
type Store struct {
	db    *sql.DB
	clock Clock
}

// Open opens (creating if necessary) a SQLite-backed voucher store at
// path, creating parent directories as needed. It validates the schema
// version, writing CurrentSchemaVersion into a freshly created database
// and failing with ErrSchemaVersion on any other recorded version.
func Open(path string, clock Clock) (*Store, error) {
	if clock == nil {
		clock = time.Now
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, &ErrOpen{Path: path, Cause: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &ErrOpen{Path: path, Cause: err}
	}
	db.SetMaxOpenConns(1) // SQLite: serialize writers through one connection.

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, &ErrOpen{Path: path, Cause: err}
	}

	if err := ensureSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, clock: clock}, nil
}

func ensureSchemaVersion(db *sql.DB) error {
	row := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	var version int
	switch err := row.Scan(&version); {
	case errors.Is(err, sql.ErrNoRows):
		_, err := db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, CurrentSchemaVersion)
		return err
	case err != nil:
		return err
	case version != CurrentSchemaVersion:
		return fmt.Errorf("%w: database has version %d, this build understands %d", ErrSchemaVersion, version, CurrentSchemaVersion)
	default:
		return nil
	}
}

// Close releases the store's resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add idempotently records a new Pending voucher with its random tokens.
// If number is already recorded, the call is accepted and randomTokens is
// ignored.
func (s *Store) Add(ctx context.Context, number string, randomTokens []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM vouchers WHERE number = ?`, number).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		case err != nil:
			return err
		default:
			// Already recorded; idempotent no-op.
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vouchers(number, created, state) VALUES (?, ?, ?)`,
			number, s.clock().UTC().Unix(), stateCodePending,
		); err != nil {
			return err
		}
		for _, rt := range randomTokens {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO random_tokens(token, voucher_number) VALUES (?, ?)`,
				rt, number,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the voucher record for number, or ErrNotFound.
func (s *Store) Get(ctx context.Context, number string) (voucher.Voucher, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT number, created, state, finished, token_count FROM vouchers WHERE number = ?`,
		number,
	)
	return scanVoucher(row)
}

// List returns all vouchers in the order they were created.
func (s *Store) List(ctx context.Context) ([]voucher.Voucher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, created, state, finished, token_count FROM vouchers ORDER BY created ASC, number ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []voucher.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVoucher(row scannable) (voucher.Voucher, error) {
	var (
		number     string
		created    int64
		stateCode  int
		finished   sql.NullInt64
		tokenCount sql.NullInt64
	)
	err := row.Scan(&number, &created, &stateCode, &finished, &tokenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return voucher.Voucher{}, ErrNotFound
	}
	if err != nil {
		return voucher.Voucher{}, err
	}

	v := voucher.Voucher{Number: number, Created: time.Unix(created, 0).UTC()}
	switch stateCode {
	case stateCodePending:
		v.State = voucher.Pending{}
	case stateCodeRedeemed:
		v.State = voucher.Redeemed{
			Finished:   time.Unix(finished.Int64, 0).UTC(),
			TokenCount: int(tokenCount.Int64),
		}
	case stateCodeDoubleSpend:
		v.State = voucher.DoubleSpend{Finished: time.Unix(finished.Int64, 0).UTC()}
	default:
		return voucher.Voucher{}, fmt.Errorf("store: unknown state code %d for voucher %q", stateCode, number)
	}
	return v, nil
}

// InsertUnblindedTokensForVoucher transitions number from Pending to
// Redeemed and appends tokens to the unblinded-token pool in the given
// order (establishing their FIFO extraction order). It fails with
// voucher.ErrInvalidState if the voucher is absent or not Pending.
func (s *Store) InsertUnblindedTokensForVoucher(ctx context.Context, number string, tokens []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requirePendingLocked(ctx, tx, number); err != nil {
			return err
		}

		now := s.clock().UTC().Unix()
		if _, err := tx.ExecContext(ctx,
			`UPDATE vouchers SET state = ?, finished = ?, token_count = ? WHERE number = ?`,
			stateCodeRedeemed, now, len(tokens), number,
		); err != nil {
			return err
		}
		for _, token := range tokens {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unblinded_tokens(token, voucher_number) VALUES (?, ?)`,
				token, number,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkVoucherDoubleSpent transitions number from Pending to DoubleSpend.
// It fails with voucher.ErrInvalidState if the voucher is absent or
// already in a terminal state.
func (s *Store) MarkVoucherDoubleSpent(ctx context.Context, number string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requirePendingLocked(ctx, tx, number); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE vouchers SET state = ?, finished = ? WHERE number = ?`,
			stateCodeDoubleSpend, s.clock().UTC().Unix(), number,
		)
		return err
	})
}

func requirePendingLocked(ctx context.Context, tx *sql.Tx, number string) error {
	var stateCode int
	err := tx.QueryRowContext(ctx, `SELECT state FROM vouchers WHERE number = ?`, number).Scan(&stateCode)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: voucher %q not found", voucher.ErrInvalidState, number)
	}
	if err != nil {
		return err
	}
	if stateCode != stateCodePending {
		return fmt.Errorf("%w: voucher %q is not pending", voucher.ErrInvalidState, number)
	}
	return nil
}

// ExtractUnblindedTokens removes and returns up to n tokens in FIFO
// order (the order they were inserted). It returns fewer than n only
// when the pool itself is short; concurrent extractors never receive the
// same token.
func (s *Store) ExtractUnblindedTokens(ctx context.Context, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	var tokens [][]byte
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT sequence, token FROM unblinded_tokens ORDER BY sequence ASC LIMIT ?`, n,
		)
		if err != nil {
			return err
		}
		var sequences []int64
		for rows.Next() {
			var seq int64
			var token string
			if err := rows.Scan(&seq, &token); err != nil {
				rows.Close()
				return err
			}
			sequences = append(sequences, seq)
			tokens = append(tokens, []byte(token))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, seq := range sequences {
			if _, err := tx.ExecContext(ctx, `DELETE FROM unblinded_tokens WHERE sequence = ?`, seq); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// LeaseMaintenanceActivity is a completed lease-maintenance record.
type LeaseMaintenanceActivity struct {
	Started        time.Time
	Finished       time.Time
	PassesRequired int64
}

// LeaseMaintenance is a handle on an in-progress lease-maintenance pass
// returned by StartLeaseMaintenance.
type LeaseMaintenance struct {
	store          *Store
	id             string
	started        time.Time
	passesRequired int64
}

// StartLeaseMaintenance begins a new lease-maintenance activity record.
func (s *Store) StartLeaseMaintenance(ctx context.Context) (*LeaseMaintenance, error) {
	id := uuid.NewString()
	started := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lease_maintenance(id, started, passes_required) VALUES (?, ?, 0)`,
		id, started.Unix(),
	)
	if err != nil {
		return nil, err
	}
	return &LeaseMaintenance{store: s, id: id, started: started}, nil
}

// Observe accumulates required-pass counts for sizes observed so far
// during this lease-maintenance pass.
func (lm *LeaseMaintenance) Observe(ctx context.Context, passesRequired int64) error {
	lm.passesRequired += passesRequired
	_, err := lm.store.db.ExecContext(ctx,
		`UPDATE lease_maintenance SET passes_required = ? WHERE id = ?`,
		lm.passesRequired, lm.id,
	)
	return err
}

// Finish stamps the activity's completion time.
func (lm *LeaseMaintenance) Finish(ctx context.Context) error {
	_, err := lm.store.db.ExecContext(ctx,
		`UPDATE lease_maintenance SET finished = ? WHERE id = ?`,
		lm.store.clock().UTC().Unix(), lm.id,
	)
	return err
}

// GetLatestLeaseMaintenanceActivity returns the most recently finished
// lease-maintenance record, or (nil, nil) if none has finished yet.
func (s *Store) GetLatestLeaseMaintenanceActivity(ctx context.Context) (*LeaseMaintenanceActivity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT started, finished, passes_required FROM lease_maintenance
		 WHERE finished IS NOT NULL ORDER BY finished DESC LIMIT 1`,
	)
	var started, finished int64
	var passesRequired int64
	err := row.Scan(&started, &finished, &passesRequired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &LeaseMaintenanceActivity{
		Started:        time.Unix(started, 0).UTC(),
		Finished:       time.Unix(finished, 0).UTC(),
		PassesRequired: passesRequired,
	}, nil
}

// RedemptionService exchanges a voucher's random tokens for unblinded
// tokens. It is an external collaborator: the core does not implement
// the redemption protocol itself, only the store-side bookkeeping that
// consumes its result (spec.md §1, Non-goals).
type RedemptionService interface {
	Redeem(ctx context.Context, number string, randomTokens []string) (unblindedTokens []string, doubleSpent bool, err error)
}

// Redeem drives one voucher through the redemption state machine: it
// looks up number's stored random tokens, invokes svc, and applies the
// resulting Redeemed or DoubleSpend transition.
func (s *Store) Redeem(ctx context.Context, svc RedemptionService, number string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM random_tokens WHERE voucher_number = ?`, number)
	if err != nil {
		return err
	}
	var randomTokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return err
		}
		randomTokens = append(randomTokens, token)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	unblindedTokens, doubleSpent, err := svc.Redeem(ctx, number, randomTokens)
	if err != nil {
		return fmt.Errorf("store: redeeming voucher %q: %w", number, err)
	}
	if doubleSpent {
		return s.MarkVoucherDoubleSpent(ctx, number)
	}
	return s.InsertUnblindedTokensForVoucher(ctx, number, unblindedTokens)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
