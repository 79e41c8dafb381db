package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/interceptors"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName имя сервиса в протоколе health. Пустое имя означает весь сервер.
const ServiceName = "humanizer.billing"

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 3 * time.Second
)

// Server gRPC сервер со стандартным health-сервисом, статус которого
// следует за доступностью хранилища подписок.
type Server struct {
	grpcServer    *grpc.Server
	health        *health.Server
	store         repository.Pinger
	probeInterval time.Duration
	log           *logger.Logger

	stopProbe chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewServer создает новый gRPC сервер
func NewServer(store repository.Pinger, probeInterval time.Duration, log *logger.Logger) *Server {
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     5 * time.Minute,
		MaxConnectionAge:      time.Hour,
		MaxConnectionAgeGrace: 5 * time.Minute,
		Time:                  2 * time.Minute,
		Timeout:               20 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(kaParams),
		grpc.ChainUnaryInterceptor(interceptors.NewLoggingInterceptor(log).Unary()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	// Включаем reflection для удобства отладки (например, с помощью grpcurl)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		health:        healthServer,
		store:         store,
		probeInterval: probeInterval,
		log:           log,
		stopProbe:     make(chan struct{}),
	}
}

// Serve обслуживает соединения на lis до остановки сервера.
func (s *Server) Serve(lis net.Listener) error {
	s.probe(context.Background())

	s.wg.Add(1)
	go s.probeLoop()

	s.log.Infow("Starting gRPC server", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start слушает TCP порт и обслуживает соединения.
func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Stop переводит health в NOT_SERVING и останавливает сервер, дожидаясь активных вызовов.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.log.Infow("Stopping gRPC server")
		close(s.stopProbe)
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		s.wg.Wait()
	})
}

func (s *Server) probeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopProbe:
			return
		case <-ticker.C:
			s.probe(context.Background())
		}
	}
}

// probe пингует хранилище и выставляет статус сервера и ServiceName.
func (s *Server) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.store != nil {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := s.store.PingContext(ctx); err != nil {
			s.log.Warnw("gRPC health: subscription store unreachable", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
