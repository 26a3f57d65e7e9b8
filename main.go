package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"roomhub-server/config"
	"roomhub-server/handlers/api/rooms"
	"roomhub-server/handlers/events"
	"roomhub-server/handlers/websocket"
	"roomhub-server/hub"
	roommw "roomhub-server/middleware"
	roomsvc "roomhub-server/rooms"
	"roomhub-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// localOrigin accepts local development and desktop shells when no origins are configured.
func localOrigin(_ *http.Request, origin string) bool {
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	case "tauri":
		return parsed.Hostname() == "localhost"
	}
	return false
}

func corsOptions(allowed []string) cors.Options {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(allowed) > 0 {
		opts.AllowedOrigins = allowed
	} else {
		opts.AllowedOrigins = []string{"tauri://localhost"}
		opts.AllowOriginFunc = localOrigin
	}
	return opts
}

func setupRouter(cfg *config.Config, svc *roomsvc.Service, h *hub.Hub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(roommw.Logger)
	r.Use(roommw.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(cfg.MaxPayloadBytes))
	r.Use(cors.Handler(corsOptions(cfg.AllowedOrigins)))

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", rooms.HandleCreate(svc))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", rooms.HandleGet(svc))
			r.Delete("/", rooms.HandleDelete(svc))
			r.Post("/data", rooms.HandleUpdate(svc))
			r.Get("/presence", rooms.HandlePresence(svc))
		})
	})
	r.Get("/status", rooms.HandleStatus(svc))
	r.Get("/health", rooms.HandleHealth(svc))
	r.Handle("/metrics", promhttp.Handler())

	if cfg.AllowClearAll {
		r.Delete("/admin/rooms", rooms.HandleClearAll(svc))
		logrus.Warn("Administrative clear-all endpoint enabled")
	}

	r.Get("/events/{roomId}", events.HandleEvents(svc, h, events.Options{
		QueueSize: cfg.QueueSize,
		Overflow:  cfg.Overflow,
		Heartbeat: cfg.HeartbeatInterval,
	}))

	wsOpts := websocket.Options{
		QueueSize:       cfg.QueueSize,
		Overflow:        cfg.Overflow,
		MaxMessageBytes: cfg.MaxPayloadBytes,
		InboundRate:     cfg.InboundRate,
		InboundBurst:    cfg.InboundBurst,
		AllowedOrigins:  cfg.AllowedOrigins,
	}
	r.Get("/ws/{roomId}", websocket.HandleWebSocket(svc, h, wsOpts))

	return r
}

func setupLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := stores.GetStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close store")
		}
	}()

	h := hub.New(hub.Options{Exclusion: cfg.Exclusion})
	svc := roomsvc.NewService(store, h)

	r := setupRouter(cfg, svc, h)
	ioo := websocket.SetupSocketIO(svc, h, websocket.Options{
		QueueSize:       cfg.QueueSize,
		Overflow:        cfg.Overflow,
		MaxMessageBytes: cfg.MaxPayloadBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
	})
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"addr":      cfg.ListenAddr,
			"storage":   cfg.StorageType,
			"overflow":  cfg.Overflow.String(),
			"exclusion": cfg.Exclusion.String(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Closing channels first ends long-lived streams so Shutdown can drain.
		h.Shutdown()
		ioo.Close(nil)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := setupLogging(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}
