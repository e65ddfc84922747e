package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const (
	boundAccount   = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"
	watchedAccount = "GAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB7JZX"
	wsReadTimeout  = 2 * time.Second
)

type tokenAuth map[string]*auth.Principal

func (a tokenAuth) AuthenticateToken(_ context.Context, token string) (*auth.Principal, error) {
	if p, ok := a[token]; ok {
		return p, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakeWallets map[string]int64

func (f fakeWallets) FindByPublicKey(_ context.Context, key string) (*domain.WalletBinding, error) {
	if uid, ok := f[key]; ok {
		return &domain.WalletBinding{UserID: uid, PublicKey: key}, nil
	}
	return nil, nil
}

type fakeWatches map[int64]string

func (f fakeWatches) UserWatchesAccount(_ context.Context, userID int64, account string) (bool, error) {
	return f[userID] == account, nil
}

var (
	testAuth = tokenAuth{
		"alice": {UserID: 1, Username: "alice", Role: domain.RoleUser},
		"bob":   {UserID: 2, Username: "bob", Role: domain.RoleUser},
	}
	testPolicy = &ChannelPolicy{
		Wallets: fakeWallets{boundAccount: 1},
		Watches: fakeWatches{2: watchedAccount},
	}
)

func startHub(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	select {
	case <-hub.Ready():
	case <-time.After(wsReadTimeout):
		t.Fatal("hub not ready")
	}
	server := httptest.NewServer(hub.Handler(testAuth, testPolicy))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) clientReply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(clientRequest{Type: "subscribe", Channels: channels}))
	var reply clientReply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsReadTimeout)))
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsReadTimeout)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandler_RejectsUnauthenticated(t *testing.T) {
	server := startHub(t, NewHub(nil, "test:", nil))
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=mallory", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubscribe_ChannelRules(t *testing.T) {
	server := startHub(t, NewHub(nil, "test:", nil))
	conn := dial(t, server, "alice")

	reply := subscribe(t, conn, ChannelMarket, "user:1", "user:2", AccountChannel(boundAccount), AccountChannel(watchedAccount), "account:nope", "random")
	assert.Equal(t, "subscribed", reply.Type)
	assert.Equal(t, []string{ChannelMarket, "user:1", AccountChannel(boundAccount)}, reply.Channels)
	assert.Equal(t, []string{"user:2", AccountChannel(watchedAccount), "account:nope", "random"}, reply.Rejected)

	bob := dial(t, server, "bob")
	reply = subscribe(t, bob, AccountChannel(watchedAccount), AccountChannel(boundAccount))
	assert.Equal(t, []string{AccountChannel(watchedAccount)}, reply.Channels)
}

func TestPublish_LocalDelivery(t *testing.T) {
	hub := NewHub(nil, "test:", nil)
	server := startHub(t, hub)
	conn := dial(t, server, "alice")
	subscribe(t, conn, UserChannel(1))

	require.NoError(t, hub.Publish(context.Background(), UserChannel(2), EventVoiceJob, map[string]string{"for": "bob"}))
	require.NoError(t, hub.Publish(context.Background(), UserChannel(1), EventVoiceJob, map[string]string{"status": "completed"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "user:1", msg.Channel)
	assert.Equal(t, EventVoiceJob, msg.Event)
	assert.JSONEq(t, `{"status":"completed"}`, string(msg.Data))
	assert.NotZero(t, msg.Timestamp)
}

func TestPublish_FansOutAcrossInstancesThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}
	receiving := NewHub(newClient(), "test:", nil)
	publishing := NewHub(newClient(), "test:", nil)
	server := startHub(t, receiving)
	startHub(t, publishing)

	conn := dial(t, server, "alice")
	subscribe(t, conn, ChannelMarket)

	require.NoError(t, publishing.Publish(context.Background(), ChannelMarket, EventMarketPrice, map[string]float64{"stellar": 0.11}))

	msg := readMessage(t, conn)
	assert.Equal(t, ChannelMarket, msg.Channel)
	assert.Equal(t, EventMarketPrice, msg.Event)
	assert.JSONEq(t, `{"stellar":0.11}`, string(msg.Data))
}

func TestPublish_FallsBackToLocalWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	hub := NewHub(rdb, "test:", nil)
	hub.markReady()
	server := httptest.NewServer(hub.Handler(testAuth, testPolicy))
	t.Cleanup(server.Close)

	conn := dial(t, server, "alice")
	subscribe(t, conn, ChannelMarket)
	mr.Close()

	require.NoError(t, hub.Publish(context.Background(), ChannelMarket, EventMarketPrice, 1))
	msg := readMessage(t, conn)
	assert.Equal(t, EventMarketPrice, msg.Event)
}

func TestUnknownMessageType(t *testing.T) {
	server := startHub(t, NewHub(nil, "test:", nil))
	conn := dial(t, server, "alice")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	var reply clientReply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsReadTimeout)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
}

func TestReadMessages_StopsWhenConnectionLoopExits(t *testing.T) {
	read := func() (int, []byte, error) {
		return websocket.TextMessage, []byte(`{"type":"subscribe"}`), nil
	}
	incoming := make(chan []byte, 1)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		readMessages(read, incoming, done)
		close(exited)
	}()

	// fill the buffer so the reader blocks on the next frame
	<-incoming
	close(done)
	select {
	case <-exited:
	case <-time.After(wsReadTimeout):
		t.Fatal("reader still blocked after the connection loop returned")
	}
	for range incoming {
	}
}

func TestReadMessages_ClosesIncomingOnReadError(t *testing.T) {
	frames := [][]byte{[]byte("a"), []byte("b")}
	read := func() (int, []byte, error) {
		if len(frames) == 0 {
			return 0, nil, websocket.ErrCloseSent
		}
		f := frames[0]
		frames = frames[1:]
		return websocket.TextMessage, f, nil
	}
	incoming := make(chan []byte, 4)
	readMessages(read, incoming, make(chan struct{}))

	var got []string
	for m := range incoming {
		got = append(got, string(m))
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
