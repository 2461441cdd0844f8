// Package httpapi implements the illustrative HTTP API of spec.md §6: a
// thin go-chi/chi/v5 router over the task, branch, and engine packages,
// with CORS handled by go-chi/cors the way the teacher's deployment
// configures BACKEND_CORS_ORIGINS-equivalent allow-lists.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"planforge/branch"
	"planforge/engine"
	"planforge/task"
	"planforge/telemetry"
)

// Server bundles the collaborators every handler needs.
type Server struct {
	Engine   *engine.Engine
	Tasks    task.Store
	Branches branch.Store
	Logger   telemetry.Logger
	// Stream subscribes to a task's live commit channel, nil if no
	// publisher/subscriber is configured (GET .../stream then 501s).
	Stream CommitSubscriber
}

// New builds a Server with noop telemetry and no streaming subscriber; set
// Logger and Stream after construction if needed.
func New(eng *engine.Engine, tasks task.Store, branches branch.Store) *Server {
	return &Server{
		Engine:   eng,
		Tasks:    tasks,
		Branches: branches,
		Logger:   telemetry.NewNoopLogger(),
	}
}

// Router builds the chi.Mux of §6's HTTP API table, with corsOrigins
// feeding go-chi/cors (BACKEND_CORS_ORIGINS from config.Config).
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/branches", s.handleListBranches)
			r.Get("/branches/{branch}/details", s.handleBranchDetails)
			r.Delete("/branches/{branch}", s.handleDeleteBranch)
			r.Get("/commits/{hash}/detail", s.handleCommitDetail)
			r.Get("/commits/{hash}/diff", s.handleCommitDiff)
			r.Get("/commits/{hash}/stream", s.handleCommitStream)
			r.Post("/set_branch", s.handleSetBranch)
			r.Post("/dynamic_update", s.handleDynamicUpdate)
			r.Post("/optimize_step", s.handleOptimizeStep)
		})
	})
	return r
}
