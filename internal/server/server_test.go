package server_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/internal/relay"
	"github.com/bbqsrc/robust/internal/server"
	"github.com/bbqsrc/robust/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubMessages struct{}

func (stubMessages) Insert(context.Context, domain.Message) error { return nil }
func (stubMessages) Backlog(context.Context, domain.BacklogQuery) ([]domain.Message, error) {
	return nil, nil
}

type stubUsers struct{}

func (stubUsers) Create(context.Context, *domain.User) error { return nil }
func (stubUsers) Save(context.Context, *domain.User) error   { return nil }
func (stubUsers) FindByID(context.Context, domain.UserID) (*domain.User, error) {
	return nil, domain.ErrNotFound
}
func (stubUsers) FindByHandle(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}
func (stubUsers) FindByExternalID(context.Context, string, string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}

// testSetup builds a minimal relay graph with stub stores, enough to
// exercise the lifecycle runner end to end.
func testSetup(ctx context.Context, deps server.SetupDeps) (*server.Runtime, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := domain.RealClock{}

	registry := relay.NewRegistry(logger)
	challenges := relay.NewChallengeRegistry(clock, domain.DefaultChallengeTTL, logger)
	authSvc := relay.NewAuthService(relay.AuthDeps{
		Users:       stubUsers{},
		Challenges:  challenges,
		Clock:       clock,
		Logger:      logger,
		TokenSecret: []byte("test-secret"),
		Modes:       []string{"token"},
	})
	handlers := relay.NewHandlers(relay.HandlersDeps{
		Messages: stubMessages{},
		Users:    stubUsers{},
		Registry: registry,
		Clock:    clock,
		Logger:   logger,
	})
	rly := relay.New(relay.Config{MOTD: "test motd"},
		relay.NewDispatcher(handlers, authSvc), registry, challenges, logger)

	deps.Router.Handle("/ws", rly.WSHandler(ctx))

	return &server.Runtime{Relay: rly, Challenges: challenges}, nil
}

func testParams() server.Params {
	return server.Params{Name: "testservice", Setup: testSetup}
}

// startServer runs the lifecycle on port-0 listeners and returns the
// bound addresses plus the cancel that triggers shutdown.
func startServer(t *testing.T) (tcpAddr, httpAddr string, cancel context.CancelFunc, errCh chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	tcpLn := newTestListener(t)
	httpLn := newTestListener(t)

	errCh = make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, testParams(), server.Listeners{TCP: tcpLn, HTTP: httpLn})
	}()

	waitForHealthy(t, httpLn.Addr().String())
	return tcpLn.Addr().String(), httpLn.Addr().String(), cancel, errCh
}

func TestRunGracefulShutdown(t *testing.T) {
	_, _, cancel, errCh := startServer(t)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(domain.GracefulShutdownTimeout + 5*time.Second):
		t.Fatal("shutdown did not complete within budget")
	}
}

func TestRelayAcceptsConnections(t *testing.T) {
	tcpAddr, _, cancel, errCh := startServer(t)
	defer func() {
		cancel()
		<-errCh
	}()

	conn, err := net.DialTimeout("tcp", tcpAddr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	dec := protocol.NewDecoder(conn)
	welcome, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, "welcome", welcome.Type())
	motd, _ := welcome.String("motd")
	require.Equal(t, "test motd", motd)

	raw, err := protocol.Marshal(protocol.Ping())
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	pong, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, "pong", pong.Type())
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	tcpAddr, _, cancel, errCh := startServer(t)

	conn, err := net.DialTimeout("tcp", tcpAddr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	dec := protocol.NewDecoder(conn)
	_, err = dec.Next() // welcome
	require.NoError(t, err)

	cancel()

	// The server closes the connection; the read loop sees EOF.
	for {
		if _, err = dec.Next(); err != nil {
			break
		}
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(domain.GracefulShutdownTimeout + 5*time.Second):
		t.Fatal("shutdown did not complete with a live session")
	}
}

func TestHealthCheckReturns503DuringShutdown(t *testing.T) {
	_, httpAddr, cancel, errCh := startServer(t)

	cancel()

	// During the drain delay the health endpoint must flip to 503.
	require.Eventually(t, func() bool {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", httpAddr))
		if err != nil {
			return false // server may have already stopped
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)

	<-errCh
}

// newTestListener creates a TCP listener on an OS-assigned port.
func newTestListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// waitForHealthy polls the health endpoint until it returns 200.
func waitForHealthy(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s not healthy within 5s", addr)
}

func httpGet(t *testing.T, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}
