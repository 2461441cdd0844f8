package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// CommitSubscriber opens a channel of raw commit-envelope payloads for a
// task, mirroring engine.CommitPublisher's wire format. Callers must drain
// or cancel ctx to release the subscription.
type CommitSubscriber interface {
	Subscribe(ctx context.Context, taskID string) (<-chan string, error)
}

// RedisSubscriber subscribes to the Redis pub/sub channel an
// engine.RedisPublisher publishes commit envelopes to.
type RedisSubscriber struct {
	client *redis.Client
	prefix string
}

// NewRedisSubscriber returns a RedisSubscriber watching the same
// prefix-namespaced channels as engine.NewRedisPublisher.
func NewRedisSubscriber(client *redis.Client, prefix string) *RedisSubscriber {
	if prefix == "" {
		prefix = "planforge:commits:"
	}
	return &RedisSubscriber{client: client, prefix: prefix}
}

// Subscribe implements CommitSubscriber.
func (s *RedisSubscriber) Subscribe(ctx context.Context, taskID string) (<-chan string, error) {
	pubsub := s.client.Subscribe(ctx, s.prefix+taskID)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("httpapi: subscribe commit channel: %w", err)
	}
	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// handleCommitStream implements the NEW, additive GET
// /tasks/{id}/commits/{hash}/stream SSE endpoint: it tails every commit
// appended to the task from the moment of subscription, formatted as
// Server-Sent Events. The {hash} path segment is accepted for symmetry
// with the other commit routes but does not filter the stream; a client
// resuming after a known hash simply ignores events up to and including it.
func (s *Server) handleCommitStream(w http.ResponseWriter, r *http.Request) {
	if s.Stream == nil {
		writeError(w, http.StatusNotImplemented, "internal_error", "commit streaming is not configured")
		return
	}
	taskID := chi.URLParam(r, "taskID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	ctx := r.Context()
	events, err := s.Stream.Subscribe(ctx, taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			if !json.Valid([]byte(payload)) {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
