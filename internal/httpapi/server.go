package httpapi

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/dispatcher"
	"github.com/transkriptor/backend/internal/history"
	"github.com/transkriptor/backend/internal/live"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/storage"
)

// Server wires the HTTP surface: submissions, history CRUD, live sessions
// and the websocket path.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatcher.Dispatcher
	store      history.Store
	registry   *live.Registry
	analyzer   recognizer.Analyzer
	blobs      storage.BlobStore
	validate   *validator.Validate
}

func NewServer(
	cfg *config.Config,
	d *dispatcher.Dispatcher,
	store history.Store,
	registry *live.Registry,
	analyzer recognizer.Analyzer,
	blobs storage.BlobStore,
) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		store:      store,
		registry:   registry,
		analyzer:   analyzer,
		blobs:      blobs,
		validate:   validator.New(),
	}
}

// App builds the fiber application with every route registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 512 * 1024 * 1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(logger.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/upload", s.handleUpload)
	app.Get("/loadfiles", s.handleLoadFiles)
	app.Post("/uploadfromblob", s.handleUploadFromBlob)
	app.Post("/submit", s.handleSubmit)
	app.Post("/analyze", s.handleAnalyze)

	h := app.Group("/history")
	h.Post("", s.handleCreateHistory)
	h.Get("", s.handleListHistory)
	h.Get("/user/:userID", s.handleUserHistory)
	h.Get("/session/:sessionID", s.handleSessionHistory)
	h.Get("/:id", s.handleGetHistory)
	h.Get("/:id/transcriptions", s.handleGetTranscriptions)
	h.Patch("/:id/visibility", s.handleToggleVisibility)
	h.Post("/:id/analysis", s.handleAttachAnalysis)

	s.registerLiveRoutes(app)

	return app
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		blobs, err := do.Invoke[storage.BlobStore](i)
		if err != nil {
			slog.Warn("blob storage unavailable, blob endpoints will return 503", "error", err)
			blobs = nil
		}
		return NewServer(
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*dispatcher.Dispatcher](i),
			do.MustInvoke[history.Store](i),
			do.MustInvoke[*live.Registry](i),
			do.MustInvoke[recognizer.Analyzer](i),
			blobs,
		), nil
	})
}
