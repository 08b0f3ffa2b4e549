package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/alma-store/apiserver/config"
	"github.com/alma-store/apiserver/internal/db"
	"github.com/alma-store/apiserver/internal/epayco"
	"github.com/alma-store/apiserver/internal/events"
	"github.com/alma-store/apiserver/internal/handlers"
	"github.com/alma-store/apiserver/internal/services"
	"github.com/alma-store/apiserver/internal/storage"
	"github.com/alma-store/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	publisher  *events.Publisher
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	tokenRepo := store.NewTokenRepository(dbConn)
	productRepo := store.NewProductRepository(dbConn)
	categoryRepo := store.NewCategoryRepository(dbConn)
	orderRepo := store.NewOrderRepository(dbConn)

	imageStore, err := newImageStore(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	gateway := epayco.NewClient(cfg.Epayco)

	userService := services.NewUserService(userRepo, tokenRepo)
	catalogService := services.NewCatalogService(productRepo, categoryRepo, imageStore)
	orderService := services.NewOrderService(orderRepo, gateway, publisher)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Get("/ping", handlers.Ping)
	handlers.AuthRouter(router, userService)
	handlers.ProfileRouter(router, userService)
	handlers.UserRouter(router, userService)
	router.Route("/products", func(r chi.Router) {
		handlers.ProductRouter(r, catalogService, userService)
	})
	router.Route("/categories", func(r chi.Router) {
		handlers.CategoryRouter(r, catalogService, userService)
	})
	handlers.OrderRouter(router, orderService, userService)
	handlers.EpaycoRouter(router, gateway)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		publisher:  publisher,
	}, nil
}

// newImageStore selects and initializes the configured object storage
// backend and makes sure its bucket exists.
func newImageStore(ctx context.Context, cfg config.Config) (*storage.ImageStore, error) {
	var backend storage.ObjectStorage
	switch cfg.StorageBackend {
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		backend = client
	default:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		backend = client
	}

	imageStore := storage.NewImageStore(backend)
	if err := imageStore.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure image bucket: %w", err)
	}
	return imageStore, nil
}

// newPublisher selects the order-event broker. With MQ_BACKEND=none the
// returned publisher silently drops events.
func newPublisher(ctx context.Context, cfg config.Config) (*events.Publisher, error) {
	switch cfg.MQBackend {
	case "rabbitmq":
		client, err := events.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		return events.NewPublisher(client), nil
	case "pubsub":
		client, err := events.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		return events.NewPublisher(client), nil
	default:
		log.Printf("server: order event publishing disabled (MQ_BACKEND=%q)", cfg.MQBackend)
		return nil, nil
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	_ = s.publisher.Close()
	return s.httpServer.Close()
}
