package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore implements Store against the relational schema of §6: tables
// tasks, task_branches, namespaces, namespace_tools, labels, task_labels. It
// shares the modernc.org/sqlite driver with branch/sqlstore and
// tools/kgsqlite.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if necessary) a SQLite database at path and
// runs migrations.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("task: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		goal TEXT NOT NULL,
		namespace TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_branches (
		task_id TEXT NOT NULL,
		branch TEXT NOT NULL,
		PRIMARY KEY (task_id, branch)
	)`,
	`CREATE TABLE IF NOT EXISTS namespaces (
		name TEXT PRIMARY KEY,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS namespace_tools (
		namespace TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		PRIMARY KEY (namespace, tool_name)
	)`,
	`CREATE TABLE IF NOT EXISTS labels (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS task_labels (
		task_id TEXT NOT NULL,
		label TEXT NOT NULL,
		PRIMARY KEY (task_id, label)
	)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("task: migrate: %w", err)
		}
	}
	return s.ensureColumn(ctx, "tasks", "active_branch", "TEXT")
}

// ensureColumn adds column to table if it is not already present, so the
// migration stays idempotent across repeated Open calls against the same
// database file (§6: "schema migrated by sequential, idempotent migration
// scripts"). database/sql has no "ALTER TABLE ... ADD COLUMN IF NOT EXISTS"
// portable equivalent, so this checks PRAGMA table_info first.
func (s *SQLStore) ensureColumn(ctx context.Context, table, column, sqlType string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("task: inspect %s columns: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("task: scan %s column info: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, sqlType))
	if err != nil {
		return fmt.Errorf("task: add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *SQLStore) CreateTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, goal, namespace, created_at) VALUES (?, ?, ?, ?)`,
		t.TaskID, t.Goal, t.Namespace, t.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	for _, b := range t.Branches {
		if err := s.AppendBranch(ctx, t.TaskID, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT task_id, goal, namespace, created_at, active_branch FROM tasks WHERE task_id = ?`, taskID)
	var t Task
	var createdAt string
	var activeBranch sql.NullString
	if err := row.Scan(&t.TaskID, &t.Goal, &t.Namespace, &createdAt, &activeBranch); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	t.ActiveBranch = activeBranch.String
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Task{}, err
	}
	t.CreatedAt = parsed

	rows, err := s.db.QueryContext(ctx, `SELECT branch FROM task_branches WHERE task_id = ? ORDER BY branch`, taskID)
	if err != nil {
		return Task{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return Task{}, err
		}
		t.Branches = append(t.Branches, b)
	}
	return t, rows.Err()
}

func (s *SQLStore) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM tasks ORDER BY task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLStore) AppendBranch(ctx context.Context, taskID, branchName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_branches (task_id, branch) VALUES (?, ?)
		ON CONFLICT (task_id, branch) DO NOTHING`, taskID, branchName)
	return err
}

func (s *SQLStore) RemoveBranch(ctx context.Context, taskID, branchName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_branches WHERE task_id = ? AND branch = ?`, taskID, branchName)
	return err
}

func (s *SQLStore) SetActiveBranch(ctx context.Context, taskID, branchName string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET active_branch = ? WHERE task_id = ?`, branchName, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) PutNamespace(ctx context.Context, ns Namespace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO namespaces (name, description) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET description = excluded.description`,
		ns.Name, ns.Description); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespace_tools WHERE namespace = ?`, ns.Name); err != nil {
		return err
	}
	for _, tool := range ns.AllowedTools {
		if _, err := tx.ExecContext(ctx, `INSERT INTO namespace_tools (namespace, tool_name) VALUES (?, ?)`, ns.Name, tool); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetNamespace(ctx context.Context, name string) (Namespace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, description FROM namespaces WHERE name = ?`, name)
	var ns Namespace
	var desc sql.NullString
	if err := row.Scan(&ns.Name, &desc); err != nil {
		if err == sql.ErrNoRows {
			return Namespace{}, ErrNotFound
		}
		return Namespace{}, err
	}
	ns.Description = desc.String

	rows, err := s.db.QueryContext(ctx, `SELECT tool_name FROM namespace_tools WHERE namespace = ? ORDER BY tool_name`, name)
	if err != nil {
		return Namespace{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var tool string
		if err := rows.Scan(&tool); err != nil {
			return Namespace{}, err
		}
		ns.AllowedTools = append(ns.AllowedTools, tool)
	}
	return ns, rows.Err()
}

func (s *SQLStore) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Namespace, 0, len(names))
	for _, n := range names {
		ns, err := s.GetNamespace(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}

func (s *SQLStore) DeleteNamespace(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespace_tools WHERE namespace = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) LabelTask(ctx context.Context, taskID, label string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, label); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_labels (task_id, label) VALUES (?, ?)
		ON CONFLICT (task_id, label) DO NOTHING`, taskID, label)
	return err
}

func (s *SQLStore) UnlabelTask(ctx context.Context, taskID, label string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id = ? AND label = ?`, taskID, label)
	return err
}

func (s *SQLStore) ListLabels(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label FROM task_labels WHERE task_id = ? ORDER BY label`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
