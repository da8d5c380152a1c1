package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore implements Store on the kv_* tables created by the db migrations.
// Expired keys are purged lazily whenever they are touched.
type SQLStore struct {
	db      *sqlx.DB
	now     func() time.Time
	lockSQL string
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now, lockSQL: keyLockQuery(db.DriverName())}
}

// keyLockQuery returns the statement that serializes read-modify-write
// operations on one key until the transaction ends. sqlite runs on a single
// connection, so every transaction is already exclusive there.
func keyLockQuery(driver string) string {
	switch driver {
	case "pgx", "postgres":
		return `SELECT pg_advisory_xact_lock(hashtext($1))`
	default:
		return ""
	}
}

func (s *SQLStore) lockKey(ctx context.Context, tx *sqlx.Tx, key string) error {
	if s.lockSQL == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, s.lockSQL, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.inTx(ctx, "get", func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &value, tx.Rebind(`SELECT kv_value FROM kv_strings WHERE kv_key = ?`), key)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNil
		}
		return err
	})
	return value, err
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	return s.inTx(ctx, "set", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM kv_lists WHERE kv_key = ?`), key)
		if err != nil {
			return err
		}
		// SET drops any pending expiry
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM kv_expiry WHERE kv_key = ?`), key)
		if err != nil {
			return err
		}
		return upsertString(ctx, tx, key, value)
	})
}

func (s *SQLStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.inTx(ctx, "del", func(tx *sqlx.Tx) error {
		for _, key := range keys {
			err := deleteKey(ctx, tx, key)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	var n int64
	err := s.inTx(ctx, "lpush", func(tx *sqlx.Tx) error {
		err := s.lockKey(ctx, tx, key)
		if err != nil {
			return err
		}
		var head int64
		err = tx.GetContext(ctx, &head, tx.Rebind(`SELECT COALESCE(MIN(seq), 0) FROM kv_lists WHERE kv_key = ?`), key)
		if err != nil {
			return err
		}
		for _, v := range values {
			head--
			_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO kv_lists (kv_key, seq, kv_value) VALUES (?, ?, ?)`), key, head, v)
			if err != nil {
				return err
			}
		}
		return tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM kv_lists WHERE kv_key = ?`), key)
	})
	return n, err
}

func (s *SQLStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.inTx(ctx, "lrange", func(tx *sqlx.Tx) error {
		var all []string
		err := tx.SelectContext(ctx, &all, tx.Rebind(`SELECT kv_value FROM kv_lists WHERE kv_key = ? ORDER BY seq`), key)
		if err != nil {
			return err
		}
		lo, hi, ok := listBounds(int64(len(all)), start, stop)
		if !ok {
			out = []string{}
			return nil
		}
		out = all[lo:hi]
		return nil
	})
	return out, err
}

func (s *SQLStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.inTx(ctx, "ltrim", func(tx *sqlx.Tx) error {
		err := s.lockKey(ctx, tx, key)
		if err != nil {
			return err
		}
		var seqs []int64
		err = tx.SelectContext(ctx, &seqs, tx.Rebind(`SELECT seq FROM kv_lists WHERE kv_key = ? ORDER BY seq`), key)
		if err != nil {
			return err
		}
		lo, hi, ok := listBounds(int64(len(seqs)), start, stop)
		if !ok {
			return deleteKey(ctx, tx, key)
		}
		_, err = tx.ExecContext(ctx,
			tx.Rebind(`DELETE FROM kv_lists WHERE kv_key = ? AND (seq < ? OR seq > ?)`),
			key, seqs[lo], seqs[hi-1])
		return err
	})
}

func (s *SQLStore) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.inTx(ctx, "llen", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM kv_lists WHERE kv_key = ?`), key)
	})
	return n, err
}

func (s *SQLStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.inTx(ctx, "incr", func(tx *sqlx.Tx) error {
		err := s.lockKey(ctx, tx, key)
		if err != nil {
			return err
		}
		var current string
		err = tx.GetContext(ctx, &current, tx.Rebind(`SELECT kv_value FROM kv_strings WHERE kv_key = ?`), key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			n = 1
		case err != nil:
			return err
		default:
			v, perr := strconv.ParseInt(current, 10, 64)
			if perr != nil {
				return errNotInteger
			}
			n = v + 1
		}
		return upsertString(ctx, tx, key, strconv.FormatInt(n, 10))
	})
	return n, err
}

func (s *SQLStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.inTx(ctx, "expire", func(tx *sqlx.Tx) error {
		var exists int
		err := tx.GetContext(ctx, &exists, tx.Rebind(`
			SELECT (SELECT COUNT(*) FROM kv_strings WHERE kv_key = ?) + (SELECT COUNT(*) FROM kv_lists WHERE kv_key = ?)`),
			key, key)
		if err != nil {
			return err
		}
		if exists == 0 {
			return nil
		}
		ok = true
		expiresAt := s.now().Add(ttl).UnixMilli()
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO kv_expiry (kv_key, expires_at) VALUES (?, ?)
			ON CONFLICT (kv_key) DO UPDATE SET expires_at = excluded.expires_at`),
			key, expiresAt)
		return err
	})
	return ok, err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var errNotInteger = errors.New("kv: value is not an integer")

// inTx runs fn after purging key if its expiry has passed. Errors other than
// ErrNil and errNotInteger are reported as ErrUnavailable.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM kv_strings WHERE kv_key IN (SELECT kv_key FROM kv_expiry WHERE expires_at <= ?)`), s.now().UnixMilli())
	if err == nil {
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM kv_lists WHERE kv_key IN (SELECT kv_key FROM kv_expiry WHERE expires_at <= ?)`), s.now().UnixMilli())
	}
	if err == nil {
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM kv_expiry WHERE expires_at <= ?`), s.now().UnixMilli())
	}
	if err != nil {
		return unavailable(op, err)
	}

	err = fn(tx)
	if err != nil {
		if errors.Is(err, ErrNil) || errors.Is(err, errNotInteger) {
			return err
		}
		return unavailable(op, err)
	}

	err = tx.Commit()
	if err != nil {
		return unavailable(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func upsertString(ctx context.Context, tx *sqlx.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO kv_strings (kv_key, kv_value) VALUES (?, ?)
		ON CONFLICT (kv_key) DO UPDATE SET kv_value = excluded.kv_value`),
		key, value)
	return err
}

func deleteKey(ctx context.Context, tx *sqlx.Tx, key string) error {
	for _, q := range []string{
		`DELETE FROM kv_strings WHERE kv_key = ?`,
		`DELETE FROM kv_lists WHERE kv_key = ?`,
		`DELETE FROM kv_expiry WHERE kv_key = ?`,
	} {
		_, err := tx.ExecContext(ctx, tx.Rebind(q), key)
		if err != nil {
			return err
		}
	}
	return nil
}
