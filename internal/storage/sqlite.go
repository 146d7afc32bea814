package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tailwatch/internal/model"
	logx "tailwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = filepath.Join(strings.TrimSpace(cfg.Dir), "tailwatch.sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadTenants(ctx context.Context) ([]model.Tenant, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM tenants ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var t model.Tenant
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", id, err)
		}
		t.ID = id
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveTenants(ctx context.Context, tenants []model.Tenant) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.replace(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tenants`); err != nil {
			return err
		}
		for i, t := range tenants {
			doc, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO tenants(id, seq, doc) VALUES(?,?,?)`, t.ID, i, string(doc)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadStates(ctx context.Context) (map[string]*model.NotificationState, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*model.NotificationState{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		st := model.NewNotificationState()
		if err := json.Unmarshal([]byte(doc), st); err != nil {
			return nil, fmt.Errorf("state %s: %w", id, err)
		}
		out[id] = st
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveStates(ctx context.Context, states map[string]*model.NotificationState) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.replace(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM states`); err != nil {
			return err
		}
		for _, id := range sortedStateIDs(states) {
			st := states[id]
			if st == nil {
				st = model.NewNotificationState()
			}
			doc, err := json.Marshal(st)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO states(id, doc) VALUES(?,?)`, id, string(doc)); err != nil {
				return err
			}
		}
		return nil
	})
}

// replace runs fn in one transaction; a failure rolls back to the previous rows.
func (s *sqliteStore) replace(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
