package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"droproom/internal/cleanup"
	"droproom/internal/room"
)

var (
	errNoRoute     = errors.New("not found")
	errMethod      = errors.New("method not allowed")
	errRateLimited = errors.New("too many requests, slow down")
	errTooLarge    = errors.New("file too large")
	errNoFile      = &room.ValidationError{Field: "file", Reason: "No file uploaded"}
)

type createRoomResponse struct {
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type cleanupResponse struct {
	Cleaned      int `json:"cleaned"`
	FileFailures int `json:"fileFailures"`
}

func (s *Server) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storageContext(r.Context())
	defer cancel()
	created, err := s.store.CreateRoom(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.metrics.IncRoomCreated()
	s.logger.Info("room created", "room", created.ID)
	writeJSON(w, http.StatusOK, createRoomResponse{
		RoomID:    created.ID,
		CreatedAt: created.CreatedAt,
		ExpiresAt: created.ExpiresAt(),
	})
}

func (s *Server) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storageContext(r.Context())
	defer cancel()
	found, err := s.store.GetRoom(ctx, mux.Vars(r)["roomId"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found.Document(s.resolve))
}

// HandleCleanup runs one sweep synchronously. A disconnecting caller does
// not cancel a sweep in progress.
func (s *Server) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.sweeper.Sweep(context.WithoutCancel(r.Context()))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Cleaned: res.Rooms, FileFailures: res.FileFailures})
}

func (s *Server) HandlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

// fail maps err onto a status code and writes it. Server side failures
// are logged and reported without internal detail.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": publicMessage(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, cleanup.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrPublishTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return "not_found"
	case errors.Is(err, room.ErrValidation):
		return "invalid"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPublishTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, room.ErrStorage):
		return "storage"
	case errors.Is(err, room.ErrPersistence):
		return "unavailable"
	default:
		return "internal"
	}
}

func publicMessage(err error) string {
	var verr *room.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "file" {
			return verr.Reason
		}
		return verr.Error()
	case errors.Is(err, room.ErrNotFound):
		return "Room not found or expired"
	case errors.Is(err, room.ErrPersistence):
		return room.ErrPersistence.Error()
	case errors.Is(err, room.ErrStorage):
		return room.ErrStorage.Error()
	case errors.Is(err, ErrPublishTimeout), errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, cleanup.ErrSweepInProgress), errors.Is(err, errRateLimited),
		errors.Is(err, errTooLarge), errors.Is(err, errNoRoute), errors.Is(err, errMethod):
		return err.Error()
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
