package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the router.
type Options struct {
	Engine         Engine
	Search         Searcher
	Channel        ChannelStatus
	Bus            *bus.Bus
	Profile        string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &Handler{
		engine:  opts.Engine,
		search:  opts.Search,
		channel: opts.Channel,
		bus:     opts.Bus,
		profile: opts.Profile,
		origins: origins,
		logger:  logger,
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(Metrics)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Health)

	r.Get("/events", h.Events)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations)
		r.Delete("/active", h.ClearActive)
		r.Get("/{id}/messages", h.ListMessages)
		r.Post("/{id}/messages", h.SendMessage)
		r.Post("/{id}/select", h.SelectConversation)
	})
	r.Post("/messages/{tempID}/retry", h.RetryMessage)
	r.Delete("/messages/{tempID}", h.DiscardMessage)
	r.Get("/contacts", h.ListContacts)
	r.Get("/contacts/{id}/presence", h.GetPresence)
	r.Get("/search", h.Search)

	return r
}
