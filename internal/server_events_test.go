package internal

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droproom/internal/logging"
	"droproom/internal/room"
)

func (e *testEnv) uploaded(t *testing.T, name string, content []byte) UploadResponse {
	t.Helper()
	rec := e.upload(t, name, "text/plain", content)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var up UploadResponse
	decodeBody(t, rec, &up)
	return up
}

func fileRequest(roomID string, up UploadResponse) room.SendRequest {
	size := up.Size
	return room.SendRequest{
		RoomID: roomID, Type: room.KindFile, Content: up.URL,
		OriginalName: up.OriginalName, MimeType: up.MimeType, Size: &size, SenderID: "u1",
	}
}

func TestExpiringRoomCannotTakeAnotherRoomsFile(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	older, err := env.store.CreateRoom(ctx)
	require.NoError(t, err)
	env.clock.Advance(20 * time.Minute)
	live, err := env.store.CreateRoom(ctx)
	require.NoError(t, err)

	up := env.uploaded(t, "v.txt", []byte("victim"))
	_, err = env.server.SendMessage(ctx, fileRequest(live.ID, up))
	require.NoError(t, err)

	_, err = env.server.SendMessage(ctx, fileRequest(older.ID, up))
	require.ErrorIs(t, err, room.ErrValidation)

	env.clock.Advance(11 * time.Minute)
	res, err := env.server.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rooms)
	assert.Equal(t, 0, res.FilesDeleted)

	_, err = env.store.GetRoom(ctx, live.ID)
	require.NoError(t, err)
	obj, err := env.files.Open(up.URL)
	require.NoError(t, err)
	_ = obj.Close()
}

func TestUploadIsSentOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	r, err := env.store.CreateRoom(ctx)
	require.NoError(t, err)

	up := env.uploaded(t, "once.txt", []byte("once"))
	_, err = env.server.SendMessage(ctx, fileRequest(r.ID, up))
	require.NoError(t, err)
	_, err = env.server.SendMessage(ctx, fileRequest(r.ID, up))
	assert.ErrorIs(t, err, room.ErrValidation)

	stored, err := env.store.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 1)
}

func TestSendRejectsArbitraryLocators(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	r, err := env.store.CreateRoom(ctx)
	require.NoError(t, err)

	for _, locator := range []string{
		"https://res.cloudinary.com/demo/image/upload/v1/brand/logo.png",
		"/uploads/not-issued-here.txt",
	} {
		_, err := env.server.SendMessage(ctx, fileRequest(r.ID, UploadResponse{
			URL: locator, OriginalName: "x.txt", MimeType: "text/plain", Size: 1,
		}))
		var verr *room.ValidationError
		require.ErrorAs(t, err, &verr, locator)
		assert.Equal(t, "content", verr.Field)
	}
}

type failingAppends struct {
	RoomStore
	fail bool
}

func (f *failingAppends) AppendMessage(ctx context.Context, id string, draft room.Draft) (room.Message, error) {
	if f.fail {
		return room.Message{}, fmt.Errorf("%w: disk full", room.ErrPersistence)
	}
	return f.RoomStore.AppendMessage(ctx, id, draft)
}

func TestFailedAppendKeepsUploadClaimable(t *testing.T) {
	base := newTestEnv(t, Config{})
	store := &failingAppends{RoomStore: base.store, fail: true}
	server := NewServer(store, base.files, nil, Config{}, logging.Discard(), nil)
	t.Cleanup(server.Close)
	env := &testEnv{server: server, store: base.store, files: base.files, clock: base.clock}
	ctx := context.Background()

	r, err := env.store.CreateRoom(ctx)
	require.NoError(t, err)
	up := env.uploaded(t, "retry.txt", []byte("retry"))

	_, err = env.server.SendMessage(ctx, fileRequest(r.ID, up))
	require.ErrorIs(t, err, room.ErrPersistence)
	obj, err := env.files.Open(up.URL)
	require.NoError(t, err)
	_ = obj.Close()

	store.fail = false
	msg, err := env.server.SendMessage(ctx, fileRequest(r.ID, up))
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
}
