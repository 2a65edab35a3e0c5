package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"peer-sync/pkg/model"
	"peer-sync/pkg/store"
)

// PeerDB is the agent's sqlite-backed peer table. Records are kept as JSON bodies so
// updated_at round-trips exactly as the caller sent it.
type PeerDB struct {
	db *sql.DB
}

// OpenPeerDB opens (and creates if missing) the peer database at path.
func OpenPeerDB(path string) (*PeerDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite mkdir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS peers(seq INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL UNIQUE, body TEXT NOT NULL, updated_at TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite init schema: %w", err)
	}
	return &PeerDB{db: db}, nil
}

func (d *PeerDB) Close() error { return d.db.Close() }

// FetchAll returns peers in creation order.
func (d *PeerDB) FetchAll(ctx context.Context) ([]model.Peer, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT body FROM peers ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()
	var out []model.Peer
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		var p model.Peer
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode peer: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *PeerDB) Get(ctx context.Context, id string) (model.Peer, error) {
	var body string
	err := d.db.QueryRowContext(ctx, `SELECT body FROM peers WHERE id=?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return model.Peer{}, fmt.Errorf("peer %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return model.Peer{}, err
	}
	var p model.Peer
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return model.Peer{}, fmt.Errorf("decode peer: %w", err)
	}
	return p, nil
}

func (d *PeerDB) Create(ctx context.Context, p model.Peer) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode peer: %w", err)
	}
	res, err := d.db.ExecContext(ctx, `INSERT INTO peers(id, body, updated_at) VALUES(?,?,?) ON CONFLICT(id) DO NOTHING`,
		p.ID, string(body), p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert peer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("peer %s: %w", p.ID, store.ErrExists)
	}
	return nil
}

func (d *PeerDB) Update(ctx context.Context, p model.Peer) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode peer: %w", err)
	}
	res, err := d.db.ExecContext(ctx, `UPDATE peers SET body=?, updated_at=? WHERE id=?`,
		string(body), p.UpdatedAt.UTC().Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return fmt.Errorf("update peer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("peer %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}
