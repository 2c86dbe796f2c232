package internal

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/maypok86/otter/v2"

	"droproom/internal/cleanup"
	"droproom/internal/filestore"
	"droproom/internal/room"
	"droproom/internal/roomlock"
)

// RoomStore is the persistence the server relies on.
type RoomStore interface {
	Ping(ctx context.Context) error
	CreateRoom(ctx context.Context) (room.Room, error)
	GetRoom(ctx context.Context, id string) (room.Room, error)
	AppendMessage(ctx context.Context, id string, draft room.Draft) (room.Message, error)
}

// Sweeper runs one cleanup pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (cleanup.Result, error)
}

// Config tunes request handling. Zero values fall back to defaults.
type Config struct {
	MaxFileSize    int64
	StorageTimeout time.Duration
	PublishTimeout time.Duration
	MessageRate    float64
	MessageBurst   int
	UploadRate     float64
	UploadBurst    int
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Others are keyed by peer address.
	TrustedProxies []string
}

const (
	defaultMaxFileSize    = 10 << 20
	defaultStorageTimeout = 10 * time.Second
)

// Server owns the HTTP handlers and realtime connections for rooms.
type Server struct {
	store         RoomStore
	files         filestore.Backend
	sweeper       Sweeper
	hub           *Hub
	metrics       *Metrics
	locks         roomlock.Locker
	uploadLimiter *RateLimiter
	pending       *otter.Cache[string, struct{}]
	proxies       []netip.Prefix
	upgrader      websocket.Upgrader
	cfg           Config
	logger        *slog.Logger
}

func NewServer(store RoomStore, files filestore.Backend, sweeper Sweeper, cfg Config, logger *slog.Logger, metrics *Metrics) *Server {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = defaultStorageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		store:         store,
		files:         files,
		sweeper:       sweeper,
		hub:           NewHub(logger, metrics, cfg.PublishTimeout),
		metrics:       metrics,
		uploadLimiter: NewRateLimiter(cfg.UploadRate, cfg.UploadBurst, 10*time.Minute),
		pending: otter.Must(&otter.Options[string, struct{}]{
			MaximumSize:      65536,
			ExpiryCalculator: otter.ExpiryAccessing[string, struct{}](room.TTL),
		}),
		cfg:    cfg,
		logger: logger.With("component", "server"),
	}
	proxies, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		s.logger.Warn("ignoring trusted proxies", "error", err)
	}
	s.proxies = proxies
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// Hub exposes the broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Metrics() *Metrics { return s.metrics }

// Close disconnects the broadcast hub.
func (s *Server) Close() { s.hub.Close() }

// Handler mounts every route at the root and again under /api.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errNoRoute)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethod)
	})

	s.routes(r)
	s.routes(r.PathPrefix("/api").Subrouter())
	r.HandleFunc("/uploads/{name}", s.HandleDownload).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodHead, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

func (s *Server) routes(r *mux.Router) {
	r.HandleFunc("/create-room", s.HandleCreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/room/{roomId}", s.HandleGetRoom).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.HandleUpload).Methods(http.MethodPost)
	r.HandleFunc("/cleanup", s.HandleCleanup).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/ping", s.HandlePing).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.ServeWS)
}

// ServeWS upgrades the request. Rooms are joined with the join-room event.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}
	client := newClient(conn, newConnLimiter(s.cfg.MessageRate, s.cfg.MessageBurst), s.logger)
	s.metrics.IncConn()
	client.logger.Debug("client connected", "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump(s)
}

// resolve is the download URL lookup used when rendering file messages.
func (s *Server) resolve(f room.File) string {
	return s.files.ResolveDownloadURL(f.Locator, f.OriginalName)
}

func (s *Server) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StorageTimeout)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
