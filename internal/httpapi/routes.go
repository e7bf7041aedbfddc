package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kaputi/kaputi-backend/internal/leaderboard"
	"github.com/kaputi/kaputi-backend/internal/registry"
	"github.com/kaputi/kaputi-backend/internal/ws"
)

type Options struct {
	// PublicURL is the front-end origin; join links and CORS are built from it.
	PublicURL string
	Logger    *zap.Logger
	WS        ws.Options
	// Leaderboard backs GET /leaderboard; the route is absent when nil.
	Leaderboard leaderboard.Board
}

func SetupRoutes(reg *registry.Registry, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &api{
		reg:       reg,
		board:     opts.Leaderboard,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		log:       opts.Logger,
	}
	if opts.WS.Logger == nil {
		opts.WS.Logger = opts.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(a.publicURL))

	// Public routes
	r.Get("/healthz", a.Healthz)
	r.Get("/ws", ws.Handler(reg, opts.WS))
	if a.board != nil {
		r.With(middleware.Timeout(10*time.Second)).Get("/leaderboard", a.Leaderboard)
	}
	r.Route("/rooms", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Post("/", a.CreateRoom)
		r.Get("/{code}", a.GetRoom)
		r.Get("/{code}/qr", a.RoomQR)
		r.Post("/{code}/players", a.JoinRoom)
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// corsHandler admits the front-end origin, or any origin when none is configured.
func corsHandler(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}
