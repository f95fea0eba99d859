package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"redis/internal/handler"
	"redis/internal/replication"
	"redis/internal/storage"
)

// Server owns the listener, the command handler, and whichever
// replication role this process plays. Generalized from the teacher's
// RedisServer — dropped the AOF/RDB/cluster wiring entirely since none of
// those subsystems exist in this build (see DESIGN.md).
type Server struct {
	cfg     *Config
	store   *storage.Store
	handler *handler.CommandHandler
	logger  *zap.Logger

	replicas   *replication.ReplicaRegistry // set when cfg.Role == "master"
	masterLink *replication.MasterLink      // set when cfg.Role == "replica"
	stopLink   chan struct{}

	listener      net.Listener
	connIDCounter atomic.Int64
	connections   sync.Map // int64 -> net.Conn
	activeConns   atomic.Int64

	mu       sync.Mutex
	closing  bool
	wg       sync.WaitGroup
}

func NewServer(cfg *Config, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	store := storage.NewStore()

	isReplica := cfg.Role == "replica" || cfg.Role == "slave"
	isMaster := func() bool { return !isReplica }

	s := &Server{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		stopLink: make(chan struct{}),
	}

	var replicas *replication.ReplicaRegistry
	if !isReplica {
		replicas = replication.NewReplicaRegistry(logger)
		s.replicas = replicas
	}

	s.handler = handler.NewCommandHandler(store, replicas, isMaster, cfg.SlowThreshold, logger)

	if isReplica {
		s.masterLink = replication.NewMasterLink(cfg.MasterHost, cfg.MasterPort, logger)
		s.masterLink.SetApplyFunc(func(args []string) {
			s.handler.SilentDispatch(0, args)
		})
		s.handler.SetMasterLink(s.masterLink)
	}

	return s
}

func (s *Server) Handler() *handler.CommandHandler { return s.handler }
func (s *Server) Store() *storage.Store            { return s.store }

// Addr returns the listener's bound address, or nil before Run has started
// listening — useful for tests that bind cfg.Port=0 and need the OS-chosen
// port back.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on cfg.Host:cfg.Port and serves connections until ctx is
// canceled, then drains in-flight connections before returning. If this
// server is a replica, it also drives the link to its master for the
// lifetime of the run, the same as the accept loop — both supervised by
// one errgroup. Neither goroutine returns an error: a failed master link
// is logged and the server keeps serving, so Run returns only once ctx is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server listening", zap.String("addr", addr), zap.String("role", s.cfg.Role))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.acceptLoop(gctx)
		return nil
	})

	if s.masterLink != nil {
		g.Go(func() error {
			if err := s.masterLink.Run(s.cfg.Port, s.stopLink); err != nil {
				s.logger.Warn("replication link to master ended", zap.Error(err))
			}
			return nil
		})
	}

	<-gctx.Done()
	s.Shutdown()
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		if s.cfg.MaxConnections > 0 && s.activeConns.Load() >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("rejecting connection, max connections reached", zap.String("addr", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := s.connIDCounter.Add(1)
	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	s.connections.Store(connID, conn)
	defer s.connections.Delete(connID)

	started := time.Now()
	cfg := handler.ConnectionConfig{ReadTimeout: s.cfg.ReadTimeout}
	s.handler.ConnectionLoop(connID, conn, cfg, s.replicas)

	if d := time.Since(started); d > 2*time.Second {
		s.logger.Info("connection closed", zap.Int64("conn_id", connID), zap.Duration("duration", d.Round(time.Second)))
	}
}

// Shutdown stops accepting new connections and closes everything
// in-flight, mirroring the teacher's Shutdown ordering: stop accepting,
// close the listener, close connections, wait with a deadline.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()

	close(s.stopLink)

	if s.listener != nil {
		s.listener.Close()
	}

	s.connections.Range(func(_, value interface{}) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all connections closed gracefully")
	case <-time.After(5 * time.Second):
		s.logger.Warn("shutdown timeout reached, forcing exit")
	}
}
