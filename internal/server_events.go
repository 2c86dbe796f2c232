package internal

import (
	"context"
	"encoding/json"
	"errors"

	"droproom/internal/room"
)

// Realtime event names.
const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventSendMessage    = "send-message"
	EventRoomJoined     = "room-joined"
	EventReceiveMessage = "receive-message"
	EventError          = "error"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorEvent is sent to the one connection whose request failed.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinedEvent struct {
	RoomID string `json:"roomId"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func (s *Server) handleEvent(ctx context.Context, client *Client, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.replyError(client, &room.ValidationError{Field: "event", Reason: "malformed envelope"})
		return
	}
	switch env.Event {
	case EventJoinRoom:
		s.handleJoin(ctx, client, env.Data)
	case EventLeaveRoom:
		s.handleLeave(client, env.Data)
	case EventSendMessage:
		if !client.allow() {
			s.replyError(client, errRateLimited)
			return
		}
		var req room.SendRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.replyError(client, &room.ValidationError{Field: "data", Reason: "malformed message"})
			return
		}
		if _, err := s.SendMessage(ctx, req); err != nil {
			s.replyError(client, err)
		}
	default:
		s.replyError(client, &room.ValidationError{Field: "event", Reason: "unknown event " + env.Event})
	}
}

func (s *Server) handleJoin(ctx context.Context, client *Client, data json.RawMessage) {
	roomID, err := parseRoomID(data)
	if err != nil {
		s.replyError(client, err)
		return
	}
	storeCtx, cancel := s.storageContext(ctx)
	r, err := s.store.GetRoom(storeCtx, roomID)
	cancel()
	if err != nil {
		s.replyError(client, err)
		return
	}
	s.hub.Join(r.ID, client)
	client.logger.Debug("joined room", "room", r.ID)
	if payload, err := encodeEvent(EventRoomJoined, joinedEvent{RoomID: r.ID}); err == nil {
		client.deliver(payload)
	}
}

func (s *Server) handleLeave(client *Client, data json.RawMessage) {
	roomID, err := parseRoomID(data)
	if err != nil {
		s.replyError(client, err)
		return
	}
	s.hub.LeaveRoom(room.NormalizeCode(roomID), client)
}

// SendMessage appends a message and broadcasts it to the room.
//
// A file message must name an upload this server issued that has not been
// sent yet. Claiming it makes every stored locator belong to exactly one
// room, so expiring that room can never delete a file another room shows.
//
// The store serializes appends per room on its own. The server lock on the
// same code extends that over the publish, so subscribers observe append
// order.
func (s *Server) SendMessage(ctx context.Context, req room.SendRequest) (room.Message, error) {
	code, draft, err := req.Draft()
	if err != nil {
		return room.Message{}, err
	}

	var claimed string
	if file, ok := draft.Body.(room.File); ok {
		if _, issued := s.pending.Invalidate(file.Locator); !issued {
			return room.Message{}, &room.ValidationError{Field: "content", Reason: "unknown or already shared upload"}
		}
		claimed = file.Locator
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	storeCtx, cancel := s.storageContext(ctx)
	msg, err := s.store.AppendMessage(storeCtx, code, draft)
	cancel()
	if err != nil {
		if claimed != "" {
			if errors.Is(err, room.ErrNotFound) {
				s.discardUpload(ctx, claimed)
			} else {
				// the client may retry with the same upload
				s.pending.Set(claimed, struct{}{})
			}
		}
		if !errors.Is(err, room.ErrNotFound) && !errors.Is(err, room.ErrValidation) {
			s.logger.Error("append failed", "room", code, "error", err)
		}
		return room.Message{}, err
	}
	s.metrics.IncMessage(string(msg.Body.Kind()))

	payload, err := encodeEvent(EventReceiveMessage, msg.Wire(s.resolve))
	if err != nil {
		return msg, err
	}
	if err := s.hub.Publish(ctx, code, payload); err != nil {
		return msg, err
	}
	return msg, nil
}

// discardUpload deletes a claimed upload whose room turned out to be gone.
func (s *Server) discardUpload(ctx context.Context, locator string) {
	storeCtx, cancel := s.storageContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.files.Delete(storeCtx, locator); err != nil {
		s.logger.Warn("discard upload failed", "locator", locator, "error", err)
	}
}

func (s *Server) replyError(client *Client, err error) {
	payload, encErr := encodeEvent(EventError, ErrorEvent{Code: errorCode(err), Message: publicMessage(err)})
	if encErr != nil {
		return
	}
	client.deliver(payload)
}

func parseRoomID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", &room.ValidationError{Field: "roomId", Reason: "malformed"}
		}
		id = obj.RoomID
	}
	if room.NormalizeCode(id) == "" {
		return "", &room.ValidationError{Field: "roomId", Reason: "required"}
	}
	return id, nil
}
