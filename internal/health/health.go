// Package health reports readiness: the store answers a ping and the settlement policy engine
// evaluates its built-in policy. It is served as grpc.health.v1.Health and as GET /healthz.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC service name reported alongside the overall ("") status.
const ServiceName = "custodial-ledger.Ledger"

const checkTimeout = 3 * time.Second

// Pinger checks storage reachability (store.Store satisfies it).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks the policy engine (engine.OPAEvaluator satisfies it).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server runs the readiness checks and publishes the result through a gRPC health server.
// Either dependency may be nil, in which case its check is skipped.
type Server struct {
	pinger Pinger
	policy PolicyChecker
	grpc   *grpchealth.Server
	log    *zap.Logger

	mu      sync.Mutex
	lastErr error
}

// NewServer returns a health Server. Status starts as NOT_SERVING until the first Refresh.
func NewServer(pinger Pinger, policy PolicyChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{pinger: pinger, policy: policy, grpc: grpchealth.NewServer(), log: log}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register adds grpc.health.v1.Health to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(r, s.grpc)
}

// Check runs every readiness check once and joins their failures.
func (s *Server) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	var errs []error
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Refresh runs Check and updates the published status. Transitions are logged.
func (s *Server) Refresh(ctx context.Context) error {
	err := s.Check(ctx)
	s.mu.Lock()
	changed := (err == nil) != (s.lastErr == nil)
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		if changed {
			s.log.Warn("health: not serving", zap.Error(err))
		}
		return err
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
	if changed {
		s.log.Info("health: serving")
	}
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	_ = s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher and ignores later updates.
func (s *Server) Shutdown() {
	s.grpc.Shutdown()
}

// Ready handles GET /healthz: 200 when every check passes, 503 otherwise.
func (s *Server) Ready(c *fiber.Ctx) error {
	if err := s.Check(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_serving"})
	}
	return c.JSON(fiber.Map{"status": "serving"})
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.grpc.SetServingStatus("", status)
	s.grpc.SetServingStatus(ServiceName, status)
}
