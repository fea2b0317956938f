// Package server provides the service lifecycle runner. cmd/robustd
// delegates to server.Run for signal handling, config loading,
// observability init, the TCP accept loop, the HTTP sidecar, and
// graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bbqsrc/robust/internal/config"
	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/internal/observability"
	"github.com/bbqsrc/robust/internal/relay"
)

// SetupDeps is what Run hands the composition root.
type SetupDeps struct {
	Config *config.Config
	Logger *slog.Logger

	// Router serves the HTTP sidecar: auth callbacks, /ws, /healthz.
	Router *mux.Router
}

// Runtime is what the composition root hands back to Run.
type Runtime struct {
	Relay *relay.Relay

	// Challenges, when non-nil, gets a background expiry sweeper.
	Challenges *relay.ChallengeRegistry

	// Cleanup runs during shutdown, after both listeners have drained.
	Cleanup func(context.Context) error
}

// Setup builds the service's object graph and registers its HTTP routes.
type Setup func(ctx context.Context, deps SetupDeps) (*Runtime, error)

// Params configures the lifecycle runner.
type Params struct {
	// Name identifies the service in logs and health responses.
	Name string

	Setup Setup
}

// Listeners carries pre-bound listeners. Nil fields are bound from
// config; injecting port-0 listeners enables parallel testing.
type Listeners struct {
	TCP  net.Listener
	HTTP net.Listener
}

// Run executes the full service lifecycle: signal handling, config
// loading, observability initialization, relay accept loop, HTTP
// sidecar with health checks, and graceful shutdown.
func Run(ctx context.Context, p Params, lns Listeners) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: tracer -> metrics -> object graph -> listeners ---

	tracerProvider, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	metricsProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, p.Name)
	}).Methods(http.MethodGet)

	rt, err := p.Setup(ctx, SetupDeps{Config: cfg, Logger: logger, Router: router})
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	tcpLn := lns.TCP
	if tcpLn == nil {
		tcpLn, err = listenRelay(ctx, cfg)
		if err != nil {
			return err
		}
	}
	httpLn := lns.HTTP
	if httpLn == nil {
		httpLn, err = (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("listen http: %w", err)
		}
	}

	// No global read/write timeouts: /ws connections are long-lived.
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	// Goroutine 1: relay accept loop.
	g.Go(func() error {
		logger.Info("starting relay listener",
			slog.String("addr", tcpLn.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		return acceptLoop(ctx, tcpLn, rt.Relay, logger)
	})

	// Goroutine 2: HTTP sidecar (auth callbacks, WebSocket, health).
	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", httpLn.Addr().String()),
		)
		if serveErr := httpServer.Serve(httpLn); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Goroutine 3: challenge expiry sweeper.
	if rt.Challenges != nil {
		g.Go(func() error {
			rt.Challenges.Run(ctx, domain.ChallengeSweepInterval)
			return nil
		})
	}

	// Goroutine 4: shutdown trigger. Order is the explicit reverse of
	// startup: stop admitting, drain sessions, drain HTTP, then flush
	// observability.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down: health checks return 503.
		shuttingDown.Store(true)

		// 2. Drain delay so load balancers stop routing to us.
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Stop admitting and drop live sessions.
		if closeErr := tcpLn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			logger.Error("relay listener close error", slog.String("error", closeErr.Error()))
		}
		rt.Relay.Registry().CloseAll()

		// 4. Drain the HTTP server.
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := httpServer.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		// 5. Release infrastructure clients.
		if rt.Cleanup != nil {
			if cleanupErr := rt.Cleanup(httpCtx); cleanupErr != nil {
				logger.Error("cleanup error", slog.String("error", cleanupErr.Error()))
			}
		}

		// 6. Flush OTEL (reverse: metrics first, then tracer).
		otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := metricsProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown metrics", slog.String("error", shutdownErr.Error()))
		}
		if shutdownErr := tracerProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", shutdownErr.Error()))
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

// listenRelay binds the relay listener from config, wrapping it in TLS
// when a key pair is configured.
func listenRelay(ctx context.Context, cfg *config.Config) (net.Listener, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.TCP.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen relay: %w", err)
	}
	if cfg.TCP.CertFile == "" && cfg.TCP.KeyFile == "" {
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TCP.CertFile, cfg.TCP.KeyFile)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("load relay key pair: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// acceptLoop admits connections until the listener closes, running one
// ServeConn goroutine per connection. Admission is rate limited per
// remote IP so a reconnect storm from one host cannot starve the rest.
func acceptLoop(ctx context.Context, ln net.Listener, r *relay.Relay, logger *slog.Logger) error {
	limiter := newIPLimiter(rate.Limit(domain.ConnRateLimit), domain.ConnRateBurst)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		ip := remoteIP(conn)
		if !limiter.Allow(ip) {
			logger.Warn("connection rate limit exceeded",
				slog.String("remote_ip", ip),
			)
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ServeConn(ctx, relay.NewTCPFrameConn(conn))
		}()
	}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// ipLimiter keeps one token bucket per remote IP.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
