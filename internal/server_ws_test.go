package internal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droproom/internal/room"
)

type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsPeer{t: t, conn: conn}
}

func (p *wsPeer) emit(event string, data any) {
	p.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func (p *wsPeer) next() Envelope {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(p.t, p.conn.ReadJSON(&env))
	return env
}

func (p *wsPeer) join(roomID string) {
	p.t.Helper()
	p.emit(EventJoinRoom, roomID)
	env := p.next()
	require.Equal(p.t, EventRoomJoined, env.Event, string(env.Data))
}

func (p *wsPeer) nextMessage() room.Wire {
	p.t.Helper()
	env := p.next()
	require.Equal(p.t, EventReceiveMessage, env.Event, string(env.Data))
	var w room.Wire
	require.NoError(p.t, json.Unmarshal(env.Data, &w))
	return w
}

func (p *wsPeer) nextError() ErrorEvent {
	p.t.Helper()
	env := p.next()
	require.Equal(p.t, EventError, env.Event, string(env.Data))
	var e ErrorEvent
	require.NoError(p.t, json.Unmarshal(env.Data, &e))
	return e
}

func newWSEnv(t *testing.T, cfg Config) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv(t, cfg)
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)
	return env, srv
}

func TestRealtimeBroadcast(t *testing.T) {
	env, srv := newWSEnv(t, Config{})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)

	alice, bob := dial(t, srv), dial(t, srv)
	alice.join(r.ID)
	bob.join(strings.ToLower(r.ID))

	alice.emit(EventSendMessage, room.SendRequest{RoomID: r.ID, Type: room.KindText, Content: "hello", SenderID: "a1", SenderName: "Alice"})
	for _, peer := range []*wsPeer{alice, bob} {
		msg := peer.nextMessage()
		assert.Equal(t, int64(1), msg.Seq)
		assert.Equal(t, room.KindText, msg.Type)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "Alice", msg.SenderName)
	}

	stored, err := env.store.GetRoom(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
}

func TestRealtimeFileMessage(t *testing.T) {
	env, srv := newWSEnv(t, Config{})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)

	rec := env.upload(t, "cat.txt", "text/plain", []byte("meow"))
	var up UploadResponse
	decodeBody(t, rec, &up)

	peer := dial(t, srv)
	peer.join(r.ID)
	size := up.Size
	peer.emit(EventSendMessage, room.SendRequest{
		RoomID: r.ID, Type: room.KindFile, Content: up.URL,
		OriginalName: up.OriginalName, MimeType: up.MimeType, Size: &size,
		SenderID: "u1",
	})
	msg := peer.nextMessage()
	assert.Equal(t, room.KindFile, msg.Type)
	assert.Equal(t, up.URL, msg.Content)
	assert.Equal(t, up.DownloadURL, msg.DownloadURL)
	assert.Equal(t, room.DefaultSenderName, msg.SenderName)
	require.NotNil(t, msg.Size)
	assert.Equal(t, uint64(4), *msg.Size)
}

func TestJoinUnknownRoom(t *testing.T) {
	_, srv := newWSEnv(t, Config{})
	peer := dial(t, srv)

	peer.emit(EventJoinRoom, "ZZZZZZ")
	assert.Equal(t, "not_found", peer.nextError().Code)

	peer.emit(EventJoinRoom, "")
	assert.Equal(t, "invalid", peer.nextError().Code)
}

func TestInvalidMessageOnlyReachesSender(t *testing.T) {
	env, srv := newWSEnv(t, Config{})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)
	alice, bob := dial(t, srv), dial(t, srv)
	alice.join(r.ID)
	bob.join(r.ID)

	alice.emit(EventSendMessage, room.SendRequest{RoomID: r.ID, Type: room.KindText, Content: "   ", SenderID: "a1"})
	assert.Equal(t, "invalid", alice.nextError().Code)

	alice.emit(EventSendMessage, room.SendRequest{RoomID: r.ID, Type: "video", Content: "x", SenderID: "a1"})
	assert.Equal(t, "invalid", alice.nextError().Code)

	alice.emit("shout", "hi")
	assert.Equal(t, "invalid", alice.nextError().Code)

	alice.emit(EventSendMessage, room.SendRequest{RoomID: r.ID, Type: room.KindText, Content: "valid", SenderID: "a1"})
	// Bob's first event is the valid message: errors were never broadcast.
	msg := bob.nextMessage()
	assert.Equal(t, "valid", msg.Content)
	assert.Equal(t, int64(1), msg.Seq)
}

func TestSendToExpiredRoomDiscardsUpload(t *testing.T) {
	env, srv := newWSEnv(t, Config{})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)

	rec := env.upload(t, "late.txt", "text/plain", []byte("too late"))
	var up UploadResponse
	decodeBody(t, rec, &up)
	path := filepath.Join(env.files.Dir(), strings.TrimPrefix(up.URL, "/uploads/"))
	_, err = os.Stat(path)
	require.NoError(t, err)

	env.clock.Advance(room.TTL)
	peer := dial(t, srv)
	size := up.Size
	peer.emit(EventSendMessage, room.SendRequest{
		RoomID: r.ID, Type: room.KindFile, Content: up.URL,
		OriginalName: up.OriginalName, MimeType: up.MimeType, Size: &size, SenderID: "u1",
	})
	assert.Equal(t, "not_found", peer.nextError().Code)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "upload for an expired room should be removed")
}

func TestSendDoesNotDiscardForeignLocators(t *testing.T) {
	env := newTestEnv(t, Config{})
	locator, err := env.files.Store(context.Background(), []byte("keep"), fileMeta("keep.txt"))
	require.NoError(t, err)

	size := int64(4)
	_, err = env.server.SendMessage(context.Background(), room.SendRequest{
		RoomID: "ZZZZZZ", Type: room.KindFile, Content: locator,
		OriginalName: "keep.txt", MimeType: "text/plain", Size: &size, SenderID: "u1",
	})
	assert.ErrorIs(t, err, room.ErrValidation)

	obj, err := env.files.Open(locator)
	require.NoError(t, err)
	_ = obj.Close()
}

func TestMessageRateLimit(t *testing.T) {
	env, srv := newWSEnv(t, Config{MessageRate: 0.001, MessageBurst: 1})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)
	peer := dial(t, srv)
	peer.join(r.ID)

	req := room.SendRequest{RoomID: r.ID, Type: room.KindText, Content: "spam", SenderID: "s"}
	peer.emit(EventSendMessage, req)
	peer.nextMessage()
	peer.emit(EventSendMessage, req)
	assert.Equal(t, "rate_limited", peer.nextError().Code)
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	env, srv := newWSEnv(t, Config{})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)
	peer := dial(t, srv)
	peer.join(r.ID)
	require.Equal(t, 1, env.server.Hub().Subscribers(r.ID))

	peer.emit(EventLeaveRoom, r.ID)
	require.Eventually(t, func() bool { return env.server.Hub().Subscribers(r.ID) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectUnsubscribes(t *testing.T) {
	env, srv := newWSEnv(t, Config{})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)
	peer := dial(t, srv)
	peer.join(r.ID)

	require.NoError(t, peer.conn.Close())
	require.Eventually(t, func() bool { return env.server.Hub().Subscribers(r.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentSendersObserveAppendOrder(t *testing.T) {
	env := newTestEnv(t, Config{})
	r, err := env.store.CreateRoom(context.Background())
	require.NoError(t, err)
	sub := testClient(128)
	env.server.Hub().Join(r.ID, sub)

	const senders, perSender = 4, 15
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := env.server.SendMessage(context.Background(), room.SendRequest{
					RoomID: r.ID, Type: room.KindText, Content: "m", SenderID: string(rune('a' + s)),
				})
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	for want := int64(1); want <= senders*perSender; want++ {
		var frame Envelope
		require.NoError(t, json.Unmarshal([]byte(receive(t, sub)), &frame))
		var w room.Wire
		require.NoError(t, json.Unmarshal(frame.Data, &w))
		assert.Equal(t, want, w.Seq)
	}
}
