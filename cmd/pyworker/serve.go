package main

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyworker/transport/redisq"
	"github.com/caffeineduck/pyworker/transport/stdio"
	"github.com/caffeineduck/pyworker/transport/ws"
)

func newStdioCmd(a *app, build factoryFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve one worker over newline-delimited JSON on stdin/stdout",
		Long: `Serve one worker over stdin and stdout.

Each line on stdin is a host message (execute or input_reply). Each line on
stdout is a worker message (response or input_request). Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, cleanup, err := build(a)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			err = stdio.Serve(ctx, factory, cmd.InOrStdin(), cmd.OutOrStdout(), a.log, a.workerOptions()...)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newServeCmd(a *app, build factoryFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve workers over WebSocket",
		Long: `Start an HTTP server that gives every WebSocket client its own worker.

Endpoints:
  GET /ws       WebSocket; text frames carry host and worker messages
  GET /health   Health check with the open connection count

When a JWT secret is configured, /ws requires an HMAC-signed token in the
Authorization header ("Bearer <token>") or the token query parameter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.ListenAddr, _ = cmd.Flags().GetString("addr")
			}
			if cmd.Flags().Changed("jwt-secret") {
				a.cfg.JWTSecret, _ = cmd.Flags().GetString("jwt-secret")
			}

			factory, cleanup, err := build(a)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := ws.New(factory,
				ws.WithSecret(a.cfg.JWTSecret),
				ws.WithLogger(a.log.Named("ws")),
				ws.WithWorkerOptions(a.workerOptions()...),
			)
			if a.cfg.JWTSecret == "" {
				a.log.Warnw("JWT secret not set, /ws accepts unauthenticated clients")
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return srv.ListenAndServe(ctx, a.cfg.ListenAddr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from PYWORKER_LISTEN_ADDR or :8080)")
	cmd.Flags().String("jwt-secret", "", "HMAC secret for bearer tokens (default from PYWORKER_JWT_SECRET)")
	return cmd
}

func newQueueCmd(a *app, build factoryFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Consume execute requests from a Redis list",
		Long: `Pop execute requests from a Redis list and run them in order on one
persistent worker.

Keys, for a queue named Q:
  Q                  list execute requests are LPUSHed to
  Q:result:<id>      response, kept for the result TTL
  Q:input:<id>       list input replies for request <id> are LPUSHed to
  Q:events           pub/sub channel for responses and input requests`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("redis-addr") {
				a.cfg.Redis.Addr, _ = flags.GetString("redis-addr")
			}
			if flags.Changed("redis-db") {
				a.cfg.Redis.DB, _ = flags.GetInt("redis-db")
			}
			if flags.Changed("queue") {
				a.cfg.Redis.Queue, _ = flags.GetString("queue")
			}
			if flags.Changed("result-ttl") {
				a.cfg.Redis.ResultTTL, _ = flags.GetDuration("result-ttl")
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     a.cfg.Redis.Addr,
				Password: a.cfg.Redis.Password,
				DB:       a.cfg.Redis.DB,
			})
			defer rdb.Close()

			factory, cleanup, err := build(a)
			if err != nil {
				return err
			}
			defer cleanup()

			c, err := redisq.New(rdb, factory,
				redisq.WithQueue(a.cfg.Redis.Queue),
				redisq.WithResultTTL(a.cfg.Redis.ResultTTL),
				redisq.WithLogger(a.log.Named("queue")),
				redisq.WithWorkerOptions(a.workerOptions()...),
			)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("redis-addr", "", "Redis address (default from PYWORKER_REDIS_ADDR or localhost:6379)")
	cmd.Flags().Int("redis-db", 0, "Redis database")
	cmd.Flags().String("queue", "", "Queue list name (default from PYWORKER_REDIS_QUEUE or pyworker:execute)")
	cmd.Flags().Duration("result-ttl", 0, "How long responses are kept (default from PYWORKER_REDIS_RESULT_TTL or 1h)")
	return cmd
}
