package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"planforge/branch"
	"planforge/task"
	"planforge/vm"
)

// errorResponse is the JSON body written for any handler failure. It carries
// only the error kind and message; seq_no and details are not included.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, err error) {
	writeError(w, http.StatusNotFound, "not_found", err.Error())
}

type createTaskRequest struct {
	Goal           string           `json:"goal"`
	ResponseFormat vm.ResponseFormat `json:"response_format"`
	Namespace      string           `json:"namespace"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
}

// handleCreateTask implements POST /tasks. The task is started
// synchronously (so a caller can immediately GET its branches) and run
// asynchronously, matching §6's "illustrative, not exhaustive" async API:
// a long-running plan execution should not hold the HTTP request open.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "goal is required")
		return
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}
	taskID := uuid.NewString()

	if err := s.Engine.StartTask(r.Context(), taskID, req.Goal, namespace, req.ResponseFormat); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.Engine.Run(ctx, taskID); err != nil {
			s.Logger.Error(ctx, "task run failed", "task_id", taskID, "error", err.Error())
		}
	}()

	writeJSON(w, http.StatusAccepted, createTaskResponse{TaskID: taskID})
}

// handleListTasks implements GET /tasks?limit=&offset=.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.Tasks.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), len(tasks))
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if offset > len(tasks) {
		offset = len(tasks)
	}
	end := offset + limit
	if end > len(tasks) || limit < 0 {
		end = len(tasks)
	}
	writeJSON(w, http.StatusOK, tasks[offset:end])
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// handleListBranches implements GET /tasks/{id}/branches.
func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	branches, err := s.Branches.ListBranches(r.Context(), taskID)
	if err != nil {
		notFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

// handleBranchDetails implements GET /tasks/{id}/branches/{branch}/details.
func (s *Server) handleBranchDetails(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	branchName := chi.URLParam(r, "branch")
	commits, err := s.Branches.ListCommits(r.Context(), taskID, branchName)
	if err != nil {
		notFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

// handleDeleteBranch implements DELETE /tasks/{id}/branches/{branch}.
func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	branchName := chi.URLParam(r, "branch")
	if branchName == branch.MainBranch {
		writeError(w, http.StatusBadRequest, "validation_error", "cannot delete the main branch")
		return
	}
	if err := s.Branches.DeleteBranch(r.Context(), taskID, branchName); err != nil {
		notFound(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommitDetail implements GET /tasks/{id}/commits/{hash}/detail.
func (s *Server) handleCommitDetail(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	commit, err := s.Branches.GetCommit(r.Context(), hash)
	if err != nil {
		notFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

// handleCommitDiff implements GET /tasks/{id}/commits/{hash}/diff: the
// advisory textual diff (§3) between the commit's parent snapshot and its
// own, recomputed on read rather than trusting Details.Diff so the
// endpoint works for commits that predate that field too.
func (s *Server) handleCommitDiff(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	commit, err := s.Branches.GetCommit(r.Context(), hash)
	if err != nil {
		notFound(w, err)
		return
	}
	before := vm.Snapshot{Variables: map[string]vm.Value{}}
	if commit.ParentHash != "" {
		parent, err := s.Branches.GetCommit(r.Context(), commit.ParentHash)
		if err != nil {
			notFound(w, err)
			return
		}
		before = parent.Snapshot
	}
	diff, err := branch.Diff(before, commit.Snapshot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"diff": diff})
}

type setBranchRequest struct {
	Branch string `json:"branch"`
}

// handleSetBranch implements POST /tasks/{id}/set_branch.
func (s *Server) handleSetBranch(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req setBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Branch == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "branch is required")
		return
	}
	if err := s.Tasks.SetActiveBranch(r.Context(), taskID, req.Branch); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			notFound(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dynamicUpdateRequest struct {
	CommitHash string `json:"commit_hash"`
	Suggestion string `json:"suggestion"`
}

type branchResponse struct {
	Branch string `json:"branch"`
}

// handleDynamicUpdate implements POST /tasks/{id}/dynamic_update.
func (s *Server) handleDynamicUpdate(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req dynamicUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CommitHash == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "commit_hash is required")
		return
	}
	newBranch, err := s.Engine.DynamicUpdate(r.Context(), taskID, req.CommitHash, req.Suggestion)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, branchResponse{Branch: newBranch})
}

type optimizeStepRequest struct {
	CommitHash string `json:"commit_hash"`
	SeqNo      int    `json:"seq_no"`
	Suggestion string `json:"suggestion"`
}

// handleOptimizeStep implements POST /tasks/{id}/optimize_step.
func (s *Server) handleOptimizeStep(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req optimizeStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CommitHash == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "commit_hash is required")
		return
	}
	newBranch, err := s.Engine.OptimizeStep(r.Context(), taskID, req.CommitHash, req.SeqNo, req.Suggestion)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, branchResponse{Branch: newBranch})
}
