package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"reelgen/internal/http/handlers"
	"reelgen/internal/infra"
	"reelgen/internal/middleware"
	"reelgen/internal/telemetry"
)

type Options struct {
	JWTSecret          string
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	DefaultLocale      string
	// StaticDir is served under /static when set (filesystem artifact store).
	StaticDir string
	Logger    infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	// Provider and payment callbacks carry no session; they are verified by
	// body signature.
	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/provider", app.ProviderWebhook)
		r.Post("/payments", app.PaymentWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(opts.JWTSecret),
			middleware.I18N(opts.DefaultLocale),
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
		)

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/balance", app.CreditsBalance)
			r.Get("/entries", app.CreditsEntries)
		})

		r.Route("/v1/videos", func(r chi.Router) {
			r.Post("/generate", app.VideosGenerate)
			r.Post("/batch", app.VideosBatch)
			r.Get("/batch/{batch_id}", app.BatchStatus)
			r.Get("/{job_id}", app.VideoStatus)
		})
	})

	return r
}
