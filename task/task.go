// Package task manages task and namespace metadata: the §3 Task record
// ({task_id, goal, namespace, created_at, branches}), the Namespace
// allow-list that gates tool visibility (§4.2), and Labels used to tag and
// filter tasks. It implements tools.NamespaceResolver so the tool registry
// can check visibility without importing this package's storage details.
package task

import (
	"context"
	"errors"
	"time"
)

// Task is the §3 task record.
type Task struct {
	TaskID    string    `json:"task_id"`
	Goal      string    `json:"goal"`
	Namespace string    `json:"namespace"`
	CreatedAt time.Time `json:"created_at"`
	Branches  []string  `json:"branches"`
	// ActiveBranch is the branch a fresh engine.Run resumes on and the
	// httpapi POST /tasks/{id}/set_branch endpoint switches. Empty means
	// "use the most recently appended branch" (engine.activeBranch's
	// fallback), so stores created before this field existed keep working.
	ActiveBranch string `json:"active_branch,omitempty"`
}

// Namespace is a named allow-list of tool names (§4.2).
type Namespace struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	AllowedTools []string `json:"allowed_tools"`
}

// Allows reports whether tool is on the namespace's allow-list.
func (n Namespace) Allows(tool string) bool {
	for _, t := range n.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Label tags tasks for filtering/search.
type Label struct {
	Name string `json:"name"`
}

// ErrNotFound is returned by Store lookups that find nothing.
var ErrNotFound = errors.New("task: not found")

// Store persists tasks, namespaces, and labels.
type Store interface {
	CreateTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context) ([]Task, error)
	AppendBranch(ctx context.Context, taskID, branchName string) error
	RemoveBranch(ctx context.Context, taskID, branchName string) error
	// SetActiveBranch records branchName as the branch engine.Run resumes
	// on for taskID (§6 POST /tasks/{id}/set_branch).
	SetActiveBranch(ctx context.Context, taskID, branchName string) error

	PutNamespace(ctx context.Context, ns Namespace) error
	GetNamespace(ctx context.Context, name string) (Namespace, error)
	ListNamespaces(ctx context.Context) ([]Namespace, error)
	DeleteNamespace(ctx context.Context, name string) error

	LabelTask(ctx context.Context, taskID, label string) error
	UnlabelTask(ctx context.Context, taskID, label string) error
	ListLabels(ctx context.Context, taskID string) ([]string, error)
}

// NamespaceResolver adapts a Store to tools.NamespaceResolver without this
// package importing the tools package; neither package imports the other,
// and the type satisfies the interface structurally.
type NamespaceResolver struct {
	Store Store
}

// Allowed implements tools.NamespaceResolver.
func (r NamespaceResolver) Allowed(namespace, tool string) (bool, error) {
	ns, err := r.Store.GetNamespace(context.Background(), namespace)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ns.Allows(tool), nil
}
