package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"planforge/branch/fsstore"
	"planforge/engine"
	"planforge/planner"
	"planforge/task"
	"planforge/tools"
	"planforge/vm"
)

type stubCond struct{}

func (stubCond) Evaluate(context.Context, string, string) (bool, string, *vm.Error) {
	return true, "stub", nil
}

func setupServer(t *testing.T) (*Server, *task.MemStore) {
	t.Helper()
	tasks := task.NewMemStore()
	require.NoError(t, tasks.PutNamespace(context.Background(), task.Namespace{
		Name:         "default",
		AllowedTools: []string{},
	}))

	registry := tools.NewRegistry()
	invoker := tools.NewInvoker(registry, task.NamespaceResolver{Store: tasks})

	store, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)

	plnr := planner.NewStaticPlanner()
	plnr.Plans["say hello"] = planOf(vm.Instruction{
		SeqNo:       0,
		Type:        vm.KindAssign,
		Assignments: map[string]vm.Value{"final_answer": vm.String("hello")},
	})

	eng := engine.New(store, tasks, registry, invoker, stubCond{}, plnr)
	return New(eng, tasks, store), tasks
}

func planOf(instructions ...vm.Instruction) *vm.Plan {
	p := &vm.Plan{Instructions: instructions}
	p.Index()
	return p
}

func TestCreateTaskAndListBranches(t *testing.T) {
	s, _ := setupServer(t)
	r := s.Router(nil)

	body, _ := json.Marshal(createTaskRequest{Goal: "say hello", Namespace: "default"})
	req := httptest.NewRequest(http.MethodPost, "/tasks/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created createTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.TaskID)

	req = httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskID+"/branches", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTaskRejectsEmptyGoal(t *testing.T) {
	s, _ := setupServer(t)
	r := s.Router(nil)

	body, _ := json.Marshal(createTaskRequest{Goal: ""})
	req := httptest.NewRequest(http.MethodPost, "/tasks/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTasksPagination(t *testing.T) {
	s, tasks := setupServer(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, tasks.CreateTask(context.Background(), task.Task{TaskID: string(rune('a' + i)), Goal: "g"}))
	}
	r := s.Router(nil)

	req := httptest.NewRequest(http.MethodGet, "/tasks/?limit=1&offset=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
}

func TestSetBranchNotFound(t *testing.T) {
	s, _ := setupServer(t)
	r := s.Router(nil)

	body, _ := json.Marshal(setBranchRequest{Branch: "main"})
	req := httptest.NewRequest(http.MethodPost, "/tasks/missing/set_branch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMainBranchRejected(t *testing.T) {
	s, _ := setupServer(t)
	r := s.Router(nil)

	req := httptest.NewRequest(http.MethodDelete, "/tasks/t1/branches/main", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitDetailAndDiff(t *testing.T) {
	s, _ := setupServer(t)
	r := s.Router(nil)

	body, _ := json.Marshal(createTaskRequest{Goal: "say hello", Namespace: "default"})
	req := httptest.NewRequest(http.MethodPost, "/tasks/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var created createTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req = httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskID+"/branches/main/details", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var commits []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &commits))
	require.NotEmpty(t, commits)
	hash, _ := commits[0]["commit_hash"].(string)
	require.NotEmpty(t, hash)

	req = httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskID+"/commits/"+hash+"/detail", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskID+"/commits/"+hash+"/diff", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCommitStreamWithoutSubscriberReturns501(t *testing.T) {
	s, _ := setupServer(t)
	r := s.Router(nil)

	req := httptest.NewRequest(http.MethodGet, "/tasks/t1/commits/h1/stream", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
