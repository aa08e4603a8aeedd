package queue

import (
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
)

// Server wraps asynq.Server for processing dispatch tasks. Dependencies are
// injected; cmd/worker owns the assembly.
type Server struct {
	asynqServer *asynq.Server
	mux         *asynq.ServeMux
}

func NewServer(redisAddr, redisPassword string, concurrency int, eng *engine.Engine, logger *slog.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}

	asynqServer := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDispatch, NewHandlers(eng, logger).HandleDispatch)

	return &Server{
		asynqServer: asynqServer,
		mux:         mux,
	}
}

func (s *Server) Start() error {
	return s.asynqServer.Start(s.mux)
}

func (s *Server) Shutdown() {
	s.asynqServer.Shutdown()
}
