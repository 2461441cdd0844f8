// Package kgsqlite implements tools.KnowledgeGraph over a small relational
// schema stored in SQLite: nodes and edges keyed by label, queried with a
// simple substring match against the node label only.
package kgsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a knowledge-graph reference implementation backed by SQLite. It
// satisfies tools.KnowledgeGraph.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the nodes/edges schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kgsqlite: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS kg_nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL,
	facts TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS kg_edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_node INTEGER NOT NULL REFERENCES kg_nodes(id),
	to_node INTEGER NOT NULL REFERENCES kg_nodes(id),
	relation TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kg_nodes_label ON kg_nodes(label);
`)
	if err != nil {
		return fmt.Errorf("kgsqlite: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Node is one matched knowledge-graph entry, with its outgoing relations.
type Node struct {
	Label     string         `json:"label"`
	Facts     map[string]any `json:"facts"`
	Relations []Relation     `json:"relations"`
}

// Relation is one outgoing edge from a matched node.
type Relation struct {
	Relation string `json:"relation"`
	To       string `json:"to"`
}

// PutNode inserts a new node with its facts and returns its id, for seeding
// the graph. An existing node with the same label is not updated.
func (s *Store) PutNode(ctx context.Context, label string, facts map[string]any) (int64, error) {
	encoded, err := json.Marshal(facts)
	if err != nil {
		return 0, fmt.Errorf("kgsqlite: encode facts: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO kg_nodes (label, facts) VALUES (?, ?)`, label, string(encoded))
	if err != nil {
		return 0, fmt.Errorf("kgsqlite: insert node: %w", err)
	}
	return res.LastInsertId()
}

// PutEdge records a directed relation between two node ids.
func (s *Store) PutEdge(ctx context.Context, from, to int64, relation string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kg_edges (from_node, to_node, relation) VALUES (?, ?, ?)`, from, to, relation)
	if err != nil {
		return fmt.Errorf("kgsqlite: insert edge: %w", err)
	}
	return nil
}

// Query implements tools.KnowledgeGraph. It matches nodes whose label
// contains query (a SQLite LIKE substring match, case-insensitive for ASCII
// letters) and returns each match with its facts and
// outgoing relations.
func (s *Store) Query(ctx context.Context, query string) (any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, facts FROM kg_nodes WHERE label LIKE ? LIMIT 50`, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("kgsqlite: query: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	var ids []int64
	byID := map[int64]int{}
	for rows.Next() {
		var id int64
		var label, factsJSON string
		if err := rows.Scan(&id, &label, &factsJSON); err != nil {
			return nil, fmt.Errorf("kgsqlite: scan node: %w", err)
		}
		var facts map[string]any
		if err := json.Unmarshal([]byte(factsJSON), &facts); err != nil {
			facts = map[string]any{}
		}
		byID[id] = len(nodes)
		ids = append(ids, id)
		nodes = append(nodes, Node{Label: label, Facts: facts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kgsqlite: iterate nodes: %w", err)
	}

	for _, id := range ids {
		edgeRows, err := s.db.QueryContext(ctx, `
SELECT e.relation, n.label FROM kg_edges e JOIN kg_nodes n ON n.id = e.to_node WHERE e.from_node = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("kgsqlite: query edges: %w", err)
		}
		for edgeRows.Next() {
			var relation, toLabel string
			if err := edgeRows.Scan(&relation, &toLabel); err != nil {
				edgeRows.Close()
				return nil, fmt.Errorf("kgsqlite: scan edge: %w", err)
			}
			idx := byID[id]
			nodes[idx].Relations = append(nodes[idx].Relations, Relation{Relation: relation, To: toLabel})
		}
		edgeRows.Close()
	}

	return map[string]any{"query": query, "matches": nodes}, nil
}
