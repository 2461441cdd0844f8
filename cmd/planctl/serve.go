package main

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"planforge/config"
	"planforge/engine"
	"planforge/httpapi"
)

// newServeCommand builds `planctl serve`, the §6 HTTP API process. When
// --redis-addr is set it wires engine.RedisPublisher/httpapi.RedisSubscriber
// so GET .../stream tails live commits; otherwise the engine runs without a
// publisher and the stream endpoint answers 501, same as httpapi.New's
// documented zero-value behavior.
func newServeCommand() *cobra.Command {
	var (
		addr      string
		redisAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the §6 HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return withExitCode(4, err)
			}
			ctx := cmd.Context()
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return withExitCode(4, err)
			}
			defer d.Close()

			srv := httpapi.New(d.engine, d.tasks, d.branches)
			if redisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: redisAddr})
				d.engine.Publisher = engine.NewRedisPublisher(client, "planforge:commits:")
				srv.Stream = httpapi.NewRedisSubscriber(client, "planforge:commits:")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "planctl: listening on %s\n", addr)
			if err := http.ListenAndServe(addr, srv.Router(cfg.BackendCORSOrigins)); err != nil {
				return withExitCode(4, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for live commit streaming (unset disables GET .../stream)")
	return cmd
}
