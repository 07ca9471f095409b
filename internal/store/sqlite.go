package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/graphfusion/internal/embedding"
	"github.com/felixgeelhaar/graphfusion/internal/graph"
	"github.com/felixgeelhaar/graphfusion/internal/memory"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS nodes (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			attrs TEXT,
			embedding_ref TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			seq INTEGER PRIMARY KEY,
			source TEXT NOT NULL,
			relation TEXT NOT NULL,
			target TEXT NOT NULL,
			attrs TEXT,
			UNIQUE(source, relation, target)
		);`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			id TEXT PRIMARY KEY,
			vector BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memory_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			dim INTEGER NOT NULL,
			capacity INTEGER NOT NULL,
			metric TEXT NOT NULL,
			seq INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS slots (
			idx INTEGER PRIMARY KEY,
			node_id TEXT NOT NULL UNIQUE,
			vector BLOB NOT NULL,
			usage INTEGER NOT NULL,
			written INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

// GetConfig returns "" for keys that were never set.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	row := s.db.QueryRow(query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Snapshot Implementation

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"nodes", "edges", "embeddings", "memory_meta", "slots"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for i, n := range snap.Nodes {
		attrs, err := encodeAttrs(n.Attrs)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (seq, id, type, attrs, embedding_ref) VALUES (?, ?, ?, ?, ?)`,
			i, n.ID, n.Type, attrs, n.EmbeddingRef); err != nil {
			return fmt.Errorf("failed to save node %s: %w", n.ID, err)
		}
	}

	for i, e := range snap.Edges {
		attrs, err := encodeAttrs(e.Attrs)
		if err != nil {
			return fmt.Errorf("edge %s-%s->%s: %w", e.Source, e.Relation, e.Target, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (seq, source, relation, target, attrs) VALUES (?, ?, ?, ?, ?)`,
			i, e.Source, e.Relation, e.Target, attrs); err != nil {
			return fmt.Errorf("failed to save edge %s-%s->%s: %w", e.Source, e.Relation, e.Target, err)
		}
	}

	for _, r := range snap.Embeddings {
		blob, err := encodeVector(r.Vector)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO embeddings (id, vector) VALUES (?, ?)`, r.ID, blob); err != nil {
			return fmt.Errorf("failed to save embedding %s: %w", r.ID, err)
		}
	}

	if m := snap.Memory; m != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_meta (id, dim, capacity, metric, seq) VALUES (1, ?, ?, ?, ?)`,
			m.Dim, m.Capacity, string(m.Metric), int64(m.Seq)); err != nil {
			return fmt.Errorf("failed to save memory metadata: %w", err)
		}
		for _, sl := range m.Slots {
			if sl.Free() {
				continue
			}
			blob, err := encodeVector(sl.Vector)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO slots (idx, node_id, vector, usage, written) VALUES (?, ?, ?, ?, ?)`,
				sl.Index, sl.NodeID, blob, sl.Usage, int64(sl.Written)); err != nil {
				return fmt.Errorf("failed to save slot %d: %w", sl.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, `SELECT id, type, attrs, embedding_ref FROM nodes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	for rows.Next() {
		var n graph.Node
		var attrs sql.NullString
		var ref sql.NullString
		if err := rows.Scan(&n.ID, &n.Type, &attrs, &ref); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if n.Attrs, err = decodeAttrs(attrs.String); err != nil {
			rows.Close()
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.EmbeddingRef = ref.String
		snap.Nodes = append(snap.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT source, relation, target, attrs FROM edges ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	for rows.Next() {
		var e graph.Edge
		var attrs sql.NullString
		if err := rows.Scan(&e.Source, &e.Relation, &e.Target, &attrs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if e.Attrs, err = decodeAttrs(attrs.String); err != nil {
			rows.Close()
			return nil, fmt.Errorf("edge %s-%s->%s: %w", e.Source, e.Relation, e.Target, err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, vector FROM embeddings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	for rows.Next() {
		var r embedding.Record
		var blob []byte
		if err := rows.Scan(&r.ID, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if r.Vector, err = decodeVector(blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("embedding %s: %w", r.ID, err)
		}
		snap.Embeddings = append(snap.Embeddings, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if snap.Memory, err = s.loadMemory(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStore) loadMemory(ctx context.Context) (*memory.State, error) {
	var st memory.State
	var metric string
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT dim, capacity, metric, seq FROM memory_meta WHERE id = 1`).
		Scan(&st.Dim, &st.Capacity, &metric, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory metadata: %w", err)
	}
	st.Metric = memory.Metric(metric)
	st.Seq = uint64(seq)

	rows, err := s.db.QueryContext(ctx, `SELECT idx, node_id, vector, usage, written FROM slots ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sl memory.Slot
		var blob []byte
		var written int64
		if err := rows.Scan(&sl.Index, &sl.NodeID, &blob, &sl.Usage, &written); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		if sl.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("slot %d: %w", sl.Index, err)
		}
		sl.Written = uint64(written)
		st.Slots = append(st.Slots, sl)
	}
	return &st, rows.Err()
}

func encodeVector(v []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob of %d bytes is not a float32 array", len(blob))
	}
	v := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &v); err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	return v, nil
}

// attrValue tags each attribute with its kind so vectors and integers come
// back with the types they went in with.
type attrValue struct {
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v"`
}

func encodeAttrs(a graph.Attrs) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	tagged := make(map[string]attrValue, len(a))
	for k, v := range a {
		kind := "json"
		switch v.(type) {
		case string:
			kind = "string"
		case bool:
			kind = "bool"
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			kind = "int"
		case float32, float64:
			kind = "float"
		case []float32:
			kind = "vector"
		case []float64:
			kind = "vector64"
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("failed to encode attribute %s: %w", k, err)
		}
		tagged[k] = attrValue{Kind: kind, Value: raw}
	}
	data, err := json.Marshal(tagged)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeAttrs(data string) (graph.Attrs, error) {
	if data == "" {
		return nil, nil
	}
	var tagged map[string]attrValue
	if err := json.Unmarshal([]byte(data), &tagged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}

	out := make(graph.Attrs, len(tagged))
	for k, tv := range tagged {
		var err error
		switch tv.Kind {
		case "string":
			var s string
			err = json.Unmarshal(tv.Value, &s)
			out[k] = s
		case "bool":
			var b bool
			err = json.Unmarshal(tv.Value, &b)
			out[k] = b
		case "int":
			var i int
			err = json.Unmarshal(tv.Value, &i)
			out[k] = i
		case "float":
			var f float64
			err = json.Unmarshal(tv.Value, &f)
			out[k] = f
		case "vector":
			var v []float32
			err = json.Unmarshal(tv.Value, &v)
			out[k] = v
		case "vector64":
			var v []float64
			err = json.Unmarshal(tv.Value, &v)
			out[k] = v
		default:
			var v any
			err = json.Unmarshal(tv.Value, &v)
			out[k] = v
		}
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
	}
	return out, nil
}
