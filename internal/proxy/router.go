package proxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	appMiddleware "github.com/imagehost/service/internal/middleware"
	"github.com/imagehost/service/internal/response"
	"github.com/imagehost/service/internal/upload"

	_ "github.com/imagehost/service/docs/swagger"
)

// NewRouter builds the proxy routes on top of svc.
func NewRouter(svc *upload.Service, opts Options, log zerolog.Logger) http.Handler {
	uploadHandler := upload.NewHandler(svc, opts.MaxUploadBytes)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(appMiddleware.Logger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", health(svc))

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Post("/upload", uploadHandler.Upload)
	r.Get("/history", uploadHandler.History)

	return r
}

// health godoc
//
//	@Summary		Health check
//	@Description	Reports that the proxy is up and whether a storage backend is configured.
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	response.Envelope
//	@Router			/health [get]
func health(svc *upload.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]bool{"configured": svc.Configured()})
	}
}
