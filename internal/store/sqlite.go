package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/timour/reservation-engine/internal/model"
)

// schema is the persisted-state layout: items, reservations (FK to
// items), idempotency_keys, plus indexes for the user/status lookup and
// the expiration scan.
const schema = `
CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	available_qty INTEGER NOT NULL CHECK (available_qty >= 0),
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reservations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	item_id    TEXT NOT NULL REFERENCES items(id),
	qty        INTEGER NOT NULL,
	status     TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reservations_user_status ON reservations(user_id, status);
CREATE INDEX IF NOT EXISTS idx_reservations_expires_at ON reservations(expires_at);
CREATE INDEX IF NOT EXISTS idx_reservations_item_id ON reservations(item_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key             TEXT NOT NULL,
	route           TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	response_status INTEGER NOT NULL,
	response_body   BLOB NOT NULL,
	created_at      INTEGER NOT NULL,
	ttl_ms          INTEGER NOT NULL,
	PRIMARY KEY (key, route, user_id)
);

CREATE INDEX IF NOT EXISTS idx_idempotency_created_at ON idempotency_keys(created_at);
`

// SQLiteStore is the authoritative Store implementation, backed by
// database/sql and the pure-Go modernc.org/sqlite driver: an embedded
// single-file datastore using the conditional-UPDATE / rowsAffected
// technique for its anti-oversell guarantee.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or attaches to) the SQLite database at path and applies
// the schema migration.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // writer-serializing, matches the single-writer-process design

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return scanItem(s.db.QueryRowContext(ctx, `SELECT id, name, available_qty, created_at, updated_at FROM items WHERE id = ?`, id))
}

func scanItem(row *sql.Row) (*model.Item, error) {
	var it model.Item
	var createdAt, updatedAt int64
	err := row.Scan(&it.ID, &it.Name, &it.AvailableQty, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan item: %w", err)
	}
	it.CreatedAt = fromMillis(createdAt)
	it.UpdatedAt = fromMillis(updatedAt)
	return &it, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, sortBy SortBy, sortOrder SortOrder) ([]*model.Item, error) {
	col := "name"
	if sortBy == SortByAvailableQty {
		col = "available_qty"
	}
	dir := "ASC"
	if sortOrder == SortDesc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT id, name, available_qty, created_at, updated_at FROM items ORDER BY %s %s`, col, dir)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		var it model.Item
		var createdAt, updatedAt int64
		if err := rows.Scan(&it.ID, &it.Name, &it.AvailableQty, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan item row: %w", err)
		}
		it.CreatedAt = fromMillis(createdAt)
		it.UpdatedAt = fromMillis(updatedAt)
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list items rows: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) AdjustStock(ctx context.Context, itemID string, delta int64) (*model.Item, error) {
	now := toMillis(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET available_qty = MAX(available_qty + ?, 0), updated_at = ?
		WHERE id = ?`, delta, now, itemID)
	if err != nil {
		return nil, fmt.Errorf("store: adjust stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: adjust stock rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetItem(ctx, itemID)
}

func (s *SQLiteStore) SeedItemIfMissing(ctx context.Context, item *model.Item) error {
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, available_qty, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		item.ID, item.Name, item.AvailableQty, now, now)
	if err != nil {
		return fmt.Errorf("store: seed item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return scanReservation(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, item_id, qty, status, expires_at, created_at, updated_at
		FROM reservations WHERE id = ?`, id))
}

func scanReservation(row *sql.Row) (*model.Reservation, error) {
	var r model.Reservation
	var status string
	var expiresAt, createdAt, updatedAt int64
	err := row.Scan(&r.ID, &r.UserID, &r.ItemID, &r.Qty, &status, &expiresAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan reservation: %w", err)
	}
	r.Status = model.Status(status)
	r.ExpiresAt = fromMillis(expiresAt)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

func (s *SQLiteStore) ListReservationsByUser(ctx context.Context, userID string, status *model.Status) ([]*model.Reservation, error) {
	query := `SELECT id, user_id, item_id, qty, status, expires_at, created_at, updated_at
		FROM reservations WHERE user_id = ?`
	args := []any{userID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list reservations: %w", err)
	}
	defer rows.Close()

	var out []*model.Reservation
	for rows.Next() {
		var r model.Reservation
		var st string
		var expiresAt, createdAt, updatedAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.ItemID, &r.Qty, &st, &expiresAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan reservation row: %w", err)
		}
		r.Status = model.Status(st)
		r.ExpiresAt = fromMillis(expiresAt)
		r.CreatedAt = fromMillis(createdAt)
		r.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list reservations rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetIdempotencyRecord(ctx context.Context, key, route, userID string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	var createdAt, ttlMs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT key, route, user_id, response_status, response_body, created_at, ttl_ms
		FROM idempotency_keys WHERE key = ? AND route = ? AND user_id = ?`, key, route, userID).
		Scan(&rec.Key, &rec.Route, &rec.UserID, &rec.ResponseStatus, &rec.ResponseBody, &createdAt, &ttlMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get idempotency record: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.TTL = time.Duration(ttlMs) * time.Millisecond
	return &rec, nil
}

func (s *SQLiteStore) PutIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, route, user_id, response_status, response_body, created_at, ttl_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, route, user_id) DO NOTHING`,
		rec.Key, rec.Route, rec.UserID, rec.ResponseStatus, rec.ResponseBody,
		toMillis(rec.CreatedAt), rec.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("store: put idempotency record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SweepIdempotencyRecords(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE created_at + ttl_ms < ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("store: sweep idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: sweep idempotency rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return scanItem(t.tx.QueryRowContext(ctx, `SELECT id, name, available_qty, created_at, updated_at FROM items WHERE id = ?`, id))
}

// DecrementAvailable is the sole anti-oversell mechanism: the
// sufficiency check and the write happen as one atomic statement.
func (t *sqliteTx) DecrementAvailable(ctx context.Context, itemID string, qty int64, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET available_qty = available_qty - ?, updated_at = ?
		WHERE id = ? AND available_qty >= ?`, qty, toMillis(now), itemID, qty)
	if err != nil {
		return false, fmt.Errorf("store: decrement available: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: decrement rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) IncrementAvailable(ctx context.Context, itemID string, qty int64, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE items SET available_qty = available_qty + ?, updated_at = ? WHERE id = ?`,
		qty, toMillis(now), itemID)
	if err != nil {
		return fmt.Errorf("store: increment available: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: increment rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, user_id, item_id, qty, status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ItemID, r.Qty, string(r.Status),
		toMillis(r.ExpiresAt), toMillis(r.CreatedAt), toMillis(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert reservation: %w", err)
	}
	return nil
}

// GetReservationForUser scopes the lookup to its owner; a mismatch
// returns ErrNotFound, identical to true absence.
func (t *sqliteTx) GetReservationForUser(ctx context.Context, id, userID string) (*model.Reservation, error) {
	return scanReservation(t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, item_id, qty, status, expires_at, created_at, updated_at
		FROM reservations WHERE id = ? AND user_id = ?`, id, userID))
}

func (t *sqliteTx) UpdateReservationStatus(ctx context.Context, id string, status model.Status, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("store: update reservation status: %w", err)
	}
	return nil
}

func (t *sqliteTx) SelectExpiredReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, user_id, item_id, qty, status, expires_at, created_at, updated_at
		FROM reservations WHERE status = ? AND expires_at < ?`,
		string(model.StatusReserved), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("store: select expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*model.Reservation
	for rows.Next() {
		var r model.Reservation
		var st string
		var expiresAt, createdAt, updatedAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.ItemID, &r.Qty, &st, &expiresAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan expired reservation: %w", err)
		}
		r.Status = model.Status(st)
		r.ExpiresAt = fromMillis(expiresAt)
		r.CreatedAt = fromMillis(createdAt)
		r.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: select expired rows: %w", err)
	}
	return out, nil
}
