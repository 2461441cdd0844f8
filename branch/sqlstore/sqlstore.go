// Package sqlstore implements branch.Store on top of a SQL database via
// modernc.org/sqlite, the same pure-Go driver used by tools/kgsqlite. It is
// the recommended backend for single-node deployments that want
// transactional append semantics without an external database server.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"planforge/branch"
)

// Store is a SQL-backed branch.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: avoid SQLITE_BUSY under concurrent writers
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// migrations is the sequential, idempotent migration list. Each entry is
// run in order as a single statement (no wrapping transaction) and is safe
// to re-run; new entries may only ever be appended.
//
// commits is content-addressed and global: a row is inserted exactly once,
// the first time a commit's hash is seen, by Append. branch_commits is the
// per-branch membership index: it maps (task_id, branch, ordinal) to a
// commit_hash, so a Fork can give a new branch the same prefix of history
// by inserting membership rows that point at the existing commits rows,
// never by duplicating them (§4.5: "forks share history by pointing at the
// ancestor commits").
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		forked_from TEXT,
		forked_at TEXT,
		PRIMARY KEY (task_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS commits (
		commit_hash TEXT PRIMARY KEY,
		parent_hash TEXT,
		task_id TEXT NOT NULL,
		branch TEXT NOT NULL,
		seq_no INTEGER NOT NULL,
		time TEXT NOT NULL,
		message TEXT,
		commit_type TEXT NOT NULL,
		title TEXT,
		body TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS branch_commits (
		task_id TEXT NOT NULL,
		branch TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		commit_hash TEXT NOT NULL,
		PRIMARY KEY (task_id, branch, ordinal)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_branch_commits_hash ON branch_commits (commit_hash)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// Head implements branch.Store.
func (s *Store) Head(ctx context.Context, taskID, branchName string) (branch.Commit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.body FROM branch_commits bc
		JOIN commits c ON c.commit_hash = bc.commit_hash
		WHERE bc.task_id = ? AND bc.branch = ?
		ORDER BY bc.ordinal DESC LIMIT 1`, taskID, branchName)
	return scanCommit(row)
}

// Append implements branch.Store.
func (s *Store) Append(ctx context.Context, branchName string, commit branch.Commit) error {
	wantHash, err := commit.Hash()
	if err != nil {
		return err
	}
	if commit.CommitHash != wantHash {
		return fmt.Errorf("sqlstore: commit hash mismatch: got %s want %s", commit.CommitHash, wantHash)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var headHash sql.NullString
	var ordinal int64
	err = tx.QueryRowContext(ctx, `
		SELECT commit_hash, ordinal FROM branch_commits WHERE task_id = ? AND branch = ?
		ORDER BY ordinal DESC LIMIT 1`, commit.TaskID, branchName).Scan(&headHash, &ordinal)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO branches (task_id, name) VALUES (?, ?)
			ON CONFLICT (task_id, name) DO NOTHING`, commit.TaskID, branchName); err != nil {
			return err
		}
		if commit.ParentHash != "" {
			return fmt.Errorf("sqlstore: append to empty branch %q: expected empty parent_hash", branchName)
		}
		ordinal = -1
	case err != nil:
		return err
	default:
		if headHash.String != commit.ParentHash {
			return fmt.Errorf("sqlstore: append to %q: parent %s does not match head %s", branchName, commit.ParentHash, headHash.String)
		}
	}

	body, err := json.Marshal(commit)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commits (commit_hash, parent_hash, task_id, branch, seq_no, time, message, commit_type, title, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		commit.CommitHash, nullableString(commit.ParentHash), commit.TaskID, commit.Branch,
		commit.SeqNo, commit.Time.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		commit.Message, string(commit.CommitType), commit.Title, string(body)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO branch_commits (task_id, branch, ordinal, commit_hash) VALUES (?, ?, ?, ?)`,
		commit.TaskID, branchName, ordinal+1, commit.CommitHash); err != nil {
		return err
	}
	return tx.Commit()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Fork implements branch.Store. It gives newBranch the same commit_hash
// prefix as branchName up to and including atCommit by copying
// branch_commits membership rows only; the referenced commits rows (and
// their stored branch field, part of each commit's content hash) are never
// touched, so the shared ancestor commits keep the hash they were appended
// with.
func (s *Store) Fork(ctx context.Context, taskID, branchName, atCommit, newBranch string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT commit_hash, ordinal FROM branch_commits WHERE task_id = ? AND branch = ? ORDER BY ordinal ASC`,
		taskID, branchName)
	if err != nil {
		return err
	}
	defer rows.Close()

	var found bool
	for rows.Next() {
		var hash string
		var ordinal int64
		if err := rows.Scan(&hash, &ordinal); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO branch_commits (task_id, branch, ordinal, commit_hash) VALUES (?, ?, ?, ?)`,
			taskID, newBranch, ordinal, hash); err != nil {
			return err
		}
		if hash == atCommit {
			found = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("sqlstore: commit %s not found on %s", atCommit, branchName)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO branches (task_id, name, forked_from, forked_at) VALUES (?, ?, ?, ?)`,
		taskID, newBranch, branchName, atCommit); err != nil {
		return err
	}
	return tx.Commit()
}

// ListBranches implements branch.Store.
func (s *Store) ListBranches(ctx context.Context, taskID string) ([]branch.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, forked_from, forked_at FROM branches WHERE task_id = ? ORDER BY name ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []branch.Branch
	for rows.Next() {
		var b branch.Branch
		var forkedFrom, forkedAt sql.NullString
		if err := rows.Scan(&b.Name, &forkedFrom, &forkedAt); err != nil {
			return nil, err
		}
		b.TaskID = taskID
		b.ForkedFrom = forkedFrom.String
		b.ForkedAt = forkedAt.String
		hashes, err := s.commitHashes(ctx, taskID, b.Name)
		if err != nil {
			return nil, err
		}
		b.CommitHashes = hashes
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) commitHashes(ctx context.Context, taskID, branchName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT commit_hash FROM branch_commits WHERE task_id = ? AND branch = ? ORDER BY ordinal ASC`,
		taskID, branchName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ListCommits implements branch.Store.
func (s *Store) ListCommits(ctx context.Context, taskID, branchName string) ([]branch.Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.body FROM branch_commits bc
		JOIN commits c ON c.commit_hash = bc.commit_hash
		WHERE bc.task_id = ? AND bc.branch = ? ORDER BY bc.ordinal ASC`,
		taskID, branchName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []branch.Commit
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var c branch.Commit
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCommit implements branch.Store.
func (s *Store) GetCommit(ctx context.Context, hash string) (branch.Commit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM commits WHERE commit_hash = ?`, hash)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return branch.Commit{}, fmt.Errorf("sqlstore: commit %s not found", hash)
		}
		return branch.Commit{}, err
	}
	var c branch.Commit
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return branch.Commit{}, err
	}
	return c, nil
}

// DeleteBranch implements branch.Store. It removes the branch's row and its
// branch_commits membership rows only; the underlying commits rows are left
// in place since another branch (one forked from this one, or one it was
// forked from) may still reference them.
func (s *Store) DeleteBranch(ctx context.Context, taskID, branchName string) error {
	if branchName == branch.MainBranch {
		return fmt.Errorf("sqlstore: cannot delete %q", branch.MainBranch)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE task_id = ? AND name = ?`, taskID, branchName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlstore: branch %q not found", branchName)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM branch_commits WHERE task_id = ? AND branch = ?`, taskID, branchName); err != nil {
		return err
	}
	return tx.Commit()
}

func scanCommit(row *sql.Row) (branch.Commit, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return branch.Commit{}, fmt.Errorf("sqlstore: no head commit")
		}
		return branch.Commit{}, err
	}
	var c branch.Commit
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return branch.Commit{}, err
	}
	return c, nil
}
