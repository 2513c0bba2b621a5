package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// LocalStore implements TableClient on a SQLite database; its Queue view
// implements QueueClient on the same database. Together with FileBlobStore
// they stand in for the hosted services during development and in tests,
// behind the same contracts.
type LocalStore struct {
	db *sql.DB
}

// LocalQueue is the queue view of a LocalStore.
type LocalQueue struct {
	db *sql.DB
}

// Queue returns the QueueClient view of the store.
func (s *LocalStore) Queue() *LocalQueue {
	return &LocalQueue{db: s.db}
}

const localSchema = `
CREATE TABLE IF NOT EXISTS records (
	tbl TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	row_key TEXT NOT NULL,
	fields TEXT NOT NULL,
	PRIMARY KEY (tbl, partition_key, row_key)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	queue TEXT NOT NULL,
	payload BLOB NOT NULL,
	claimed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_queue ON messages(queue, claimed);
`

// OpenLocal opens (creating if necessary) a SQLite-backed local store.
func OpenLocal(path string) (*LocalStore, error) {
	db, err := sql.Open("sqlite", path+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &LocalStore{db: db}, nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) Upsert(ctx context.Context, table, partitionKey, rowKey string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields for %s/%s: %w", partitionKey, rowKey, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (tbl, partition_key, row_key, fields) VALUES (?, ?, ?, ?)
		ON CONFLICT(tbl, partition_key, row_key) DO UPDATE SET fields = excluded.fields`,
		table, partitionKey, rowKey, string(data))
	return err
}

func (s *LocalStore) Get(ctx context.Context, table, partitionKey, rowKey string) (map[string]any, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT fields FROM records WHERE tbl = ? AND partition_key = ? AND row_key = ?",
		table, partitionKey, rowKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields for %s/%s: %w", partitionKey, rowKey, err)
	}
	return fields, nil
}

func (s *LocalStore) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE tbl = ? AND partition_key = ? AND row_key = ?",
		table, partitionKey, rowKey)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *LocalQueue) Send(ctx context.Context, queue string, payload []byte) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO messages (queue, payload) VALUES (?, ?)", queue, payload)
	return err
}

func (q *LocalQueue) Receive(ctx context.Context, queue string) (*Message, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	var payload []byte
	err = tx.QueryRowContext(ctx,
		"SELECT id, payload FROM messages WHERE queue = ? AND claimed = 0 ORDER BY id LIMIT 1",
		queue).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE messages SET claimed = 1 WHERE id = ?", id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	idStr := strconv.FormatInt(id, 10)
	return &Message{ID: idStr, Receipt: idStr, Payload: payload}, nil
}

func (q *LocalQueue) Delete(ctx context.Context, queue string, msg *Message) error {
	id, err := strconv.ParseInt(msg.Receipt, 10, 64)
	if err != nil {
		return fmt.Errorf("bad receipt %q: %w", msg.Receipt, err)
	}
	_, err = q.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ? AND queue = ?", id, queue)
	return err
}

// FileBlobStore implements BlobClient on the local filesystem, one directory
// per container.
type FileBlobStore struct {
	root string
}

// NewFileBlobStore creates a filesystem-backed blob store rooted at dir.
func NewFileBlobStore(dir string) *FileBlobStore {
	return &FileBlobStore{root: dir}
}

func (b *FileBlobStore) path(container, key string) string {
	return filepath.Join(b.root, container, filepath.FromSlash(key))
}

func (b *FileBlobStore) Put(_ context.Context, container, key string, data []byte) error {
	p := b.path(container, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (b *FileBlobStore) Get(_ context.Context, container, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(container, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FileBlobStore) Delete(_ context.Context, container, key string) error {
	err := os.Remove(b.path(container, key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
