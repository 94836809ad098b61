// Package httpapi assembles the purchases API: the middleware chain, the
// store selected by configuration and the routes under the API base path.
package httpapi

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-purchases-api/docs"
	"github.com/tbourn/go-purchases-api/internal/config"
	"github.com/tbourn/go-purchases-api/internal/domain"
	"github.com/tbourn/go-purchases-api/internal/http/handlers"
	"github.com/tbourn/go-purchases-api/internal/http/middleware"
	"github.com/tbourn/go-purchases-api/internal/repo"
	"github.com/tbourn/go-purchases-api/internal/repo/memory"
	"github.com/tbourn/go-purchases-api/internal/services"
)

// purchaseRepoShim adapts the repository free functions to the
// services.PurchaseStore interface, binding them to one *gorm.DB.
type purchaseRepoShim struct {
	db *gorm.DB
}

// Create proxies repo.CreatePurchase.
func (s purchaseRepoShim) Create(ctx context.Context, p *domain.Purchase) error {
	return repo.CreatePurchase(ctx, s.db, p)
}

// GetByID proxies repo.GetPurchase.
func (s purchaseRepoShim) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	return repo.GetPurchase(ctx, s.db, id)
}

// ListAll proxies repo.ListPurchases.
func (s purchaseRepoShim) ListAll(ctx context.Context) ([]domain.Purchase, error) {
	return repo.ListPurchases(ctx, s.db)
}

// Update proxies repo.UpdatePurchase.
func (s purchaseRepoShim) Update(ctx context.Context, p *domain.Purchase) error {
	return repo.UpdatePurchase(ctx, s.db, p)
}

// Delete proxies repo.DeletePurchase.
func (s purchaseRepoShim) Delete(ctx context.Context, id string) error {
	return repo.DeletePurchase(ctx, s.db, id)
}

// newPurchaseStore picks the store named by STORE_DRIVER. The sqlite driver
// needs db; without it the memory store is used.
func newPurchaseStore(cfg config.StoreConfig, db *gorm.DB) services.PurchaseStore {
	if cfg.Driver == config.StoreSQLite && db != nil {
		return purchaseRepoShim{db: db}
	}
	return memory.New()
}

// replayLookup flags exact replays of purchase creation: the key is live and
// was stored for the same body fingerprint. Other routes never replay.
func replayLookup(idem handlers.IdempotencyService, createRoute string) middleware.IdempotencyLookup {
	return func(ctx context.Context, route, key string, body []byte) (bool, error) {
		if route != createRoute {
			return false, nil
		}
		rec, err := idem.Lookup(ctx, services.ScopePurchases, key, idem.Fingerprint(body))
		return err == nil && rec != nil, err
	}
}

// RegisterRoutes mounts the middleware chain and every endpoint on r.
//
// db backs the sqlite purchase store and the Idempotency-Key records. With a
// nil db purchases live in memory and keys are validated but not remembered.
//
// The chain runs in this order: tracing, request id, access log, recovery,
// body limit, metrics, idempotency, rate limit, CORS, security headers and
// gzip. Idempotency sits in front of the limiter so that an exact replay of
// a purchase creation is answered without spending a write token.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	purchases := path.Join("/", cfg.APIBasePath, "purchases")

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	if cfg.Log.Redact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}}))
	} else {
		r.Use(middleware.Logger())
	}
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.Server.MaxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var (
		idemSvc handlers.IdempotencyService
		lookup  middleware.IdempotencyLookup
	)
	if db != nil {
		svc := services.NewIdempotencyService(db, cfg.SecretKey, cfg.Store.IdempotencyTTL)
		idemSvc = svc
		lookup = replayLookup(svc, http.MethodPost+" "+purchases)
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, lookup))

	rl := middleware.NewRateLimiter(map[middleware.Class]middleware.Budget{
		middleware.ClassRead:  {RPS: cfg.Rate.RPS, Burst: cfg.Rate.Burst},
		middleware.ClassWrite: {RPS: cfg.Rate.WriteRPS, Burst: cfg.Rate.WriteBurst},
	}, middleware.PurchaseWrites(purchases), middleware.ClientIP)
	r.Use(rl.Handler())

	r.Use(corsPolicy(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		HSTS:            cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{purchases},
		BrowserPolicies: true,
	}))
	// promhttp negotiates its own compression.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	purchaseSvc := services.NewPurchaseService(newPurchaseStore(cfg.Store, db), cfg.Store.Mutations)
	h := handlers.New(purchaseSvc, idemSvc, handlers.Info{
		AppName:     cfg.AppName,
		AppEnv:      cfg.AppEnv,
		APIBasePath: cfg.APIBasePath,
	})

	r.GET("/health", h.Health)
	r.GET("/", h.Root)

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/ping", h.Ping)

		api.POST("/purchases", h.CreatePurchase)
		api.GET("/purchases", h.ListPurchases)
		api.GET("/purchases/:id", h.GetPurchase)
		api.PUT("/purchases/:id", h.UpdatePurchase)
		api.DELETE("/purchases/:id", h.DeletePurchase)
	}
}

// corsPolicy allows any origin without credentials when origins is empty,
// and only the listed origins otherwise. Clients may send Idempotency-Key and
// read the request id and replay marker.
func corsPolicy(origins []string) []gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		// gin-contrib/cors skips requests without Origin; health checks still
		// get the wildcard.
		wildcard := func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{wildcard, cors.New(cc)}
	}
	cc.AllowOrigins = origins
	return []gin.HandlerFunc{cors.New(cc)}
}

// limitBody caps every request body at maxBytes (1 MiB when unset); reads
// past it fail with *http.MaxBytesError.
func limitBody(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
