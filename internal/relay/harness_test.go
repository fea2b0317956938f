package relay_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bbqsrc/robust/internal/domain"
	"github.com/bbqsrc/robust/internal/relay"
	"github.com/bbqsrc/robust/pkg/protocol"
)

// fakeMessageStore records inserts and serves canned backlogs.
type fakeMessageStore struct {
	mu        sync.Mutex
	inserted  []domain.Message
	backlog   []domain.Message
	lastQuery domain.BacklogQuery
	insertErr error
}

func (f *fakeMessageStore) Insert(_ context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, msg)
	return nil
}

func (f *fakeMessageStore) Backlog(_ context.Context, q domain.BacklogQuery) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.backlog, nil
}

func (f *fakeMessageStore) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

// fakeUserStore is an in-memory UserStore.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*domain.User // by ID
}

func newFakeUserStore(users ...*domain.User) *fakeUserStore {
	f := &fakeUserStore{users: make(map[string]*domain.User)}
	for _, u := range users {
		f.users[u.ID.String()] = u
	}
	return f
}

func (f *fakeUserStore) Create(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Handle == u.Handle {
			return domain.ErrAlreadyExists
		}
	}
	f.users[u.ID.String()] = u
	return nil
}

func (f *fakeUserStore) Save(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID.String()] = u
	return nil
}

func (f *fakeUserStore) FindByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) FindByHandle(_ context.Context, handle string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Handle == handle {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUserStore) FindByExternalID(_ context.Context, provider, uid string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		switch provider {
		case "twitter":
			if u.TwitterUID == uid {
				return u, nil
			}
		case "github":
			if u.GithubUID == uid {
				return u, nil
			}
		case "facebook":
			if u.FacebookUID == uid {
				return u, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

// harness wires a full relay over in-memory pipes.
type harness struct {
	relay      *relay.Relay
	auth       *relay.AuthService
	challenges *relay.ChallengeRegistry
	registry   *relay.Registry
	messages   *fakeMessageStore
	users      *fakeUserStore

	secret []byte
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func newHarness(t *testing.T, users ...*domain.User) *harness {
	t.Helper()
	return newHarnessWithHeartbeat(t, time.Hour, time.Hour, users...)
}

func newHarnessWithHeartbeat(t *testing.T, idleWait, readWait time.Duration, users ...*domain.User) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		messages: &fakeMessageStore{},
		users:    newFakeUserStore(users...),
		secret:   []byte("harness-secret"),
	}
	h.registry = relay.NewRegistry(logger)
	h.challenges = relay.NewChallengeRegistry(domain.RealClock{}, time.Minute, logger)

	h.auth = relay.NewAuthService(relay.AuthDeps{
		Users:        h.users,
		Challenges:   h.challenges,
		Clock:        domain.RealClock{},
		Logger:       logger,
		CallbackBase: "http://relay.test",
		TokenSecret:  h.secret,
		Modes:        []string{"oauth", "token"},
	})
	handlers := relay.NewHandlers(relay.HandlersDeps{
		Messages: h.messages,
		Users:    h.users,
		Registry: h.registry,
		Clock:    domain.RealClock{},
		Logger:   logger,
	})

	h.relay = relay.New(relay.Config{
		MOTD:     domain.DefaultMOTD,
		IdleWait: idleWait,
		ReadWait: readWait,
		Options:  map[string]any{"auth": h.auth.Modes()},
	}, relay.NewDispatcher(handlers, h.auth), h.registry, h.challenges, logger)

	_, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(func() {
		cancel()
		h.wg.Wait()
	})
	return h
}

// connect opens a piped client. The welcome frame is consumed and checked.
func (h *harness) connect(t *testing.T) *testClient {
	t.Helper()

	clientEnd, serverEnd := net.Pipe()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.relay.ServeConn(context.Background(), relay.NewTCPFrameConn(serverEnd))
	}()

	c := &testClient{t: t, conn: clientEnd, dec: protocol.NewDecoder(clientEnd)}
	t.Cleanup(c.close)

	welcome := c.next()
	require.Equal(t, "welcome", welcome.Type())
	return c
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	dec  *protocol.Decoder

	closeOnce sync.Once
}

func (c *testClient) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

func (c *testClient) send(env protocol.Envelope) {
	c.t.Helper()
	buf, err := protocol.Marshal(env)
	require.NoError(c.t, err)
	c.writeRaw(buf)
}

func (c *testClient) writeRaw(buf []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Write(buf)
	require.NoError(c.t, err)
}

// next reads one frame, failing the test after a deadline.
func (c *testClient) next() protocol.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	env, err := c.dec.Next()
	require.NoError(c.t, err, "expected a frame")
	return env
}

// expectClosed asserts the server closes the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.dec.Next()
	require.Error(c.t, err, "expected connection close")
}

// authenticate binds a user over the token mode and consumes the reply.
func (h *harness) authenticate(t *testing.T, c *testClient, u *domain.User) {
	t.Helper()

	token, err := relay.MintToken(h.secret, u.ID, time.Minute, domain.RealClock{})
	require.NoError(t, err)

	c.send(protocol.Envelope{"type": "auth", "mode": "token", "credential": token})
	reply := c.next()
	require.Equal(t, "auth", reply.Type())
	require.Equal(t, true, reply["success"])
}

func mustUser(t *testing.T, handle string) *domain.User {
	t.Helper()
	u, err := domain.NewUser("User "+handle, handle, 0)
	require.NoError(t, err)
	return u
}
