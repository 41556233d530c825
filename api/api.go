package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ramparthq/rampart/audit"
	"github.com/ramparthq/rampart/cache"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/firewall"
	zlog "github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/scoring"
)

const operatorAPI = "api"

// shutdownGrace bounds how long in-flight requests may finish after the
// server is told to stop.
const shutdownGrace = 5 * time.Second

// writesPerMinute caps mutating admin requests across all clients. The cap
// lives in the shared cache when one is connected so it holds across
// processes; otherwise a local limiter enforces it.
const writesPerMinute = 30

// Store is the slice of the database the admin surface needs.
type Store interface {
	Ping(ctx context.Context) error
	ActiveBans(ctx context.Context) ([]database.BanRecord, error)
	GetActiveBan(ctx context.Context, address string) (*database.BanRecord, error)
	RecentThreats(ctx context.Context, address string, limit int) ([]database.ThreatEvent, error)
	TopFingerprints(ctx context.Context, limit int) ([]database.Fingerprint, error)
	GetFingerprint(ctx context.Context, baseHash string) (*database.Fingerprint, error)
	ScoreHistoryFor(ctx context.Context, baseHash string, limit int) ([]database.ScoreHistory, error)
	GetChain(ctx context.Context, id string) (*database.IdentityChain, error)
	RecentLogsByAddress(ctx context.Context, address string, limit int) ([]database.AccessLog, error)
	RecentStatistics(ctx context.Context, limit int) ([]database.Statistic, error)
	RequestCountBetween(ctx context.Context, from, to time.Time) (total, unique int64, err error)
	CountThreatsBetween(ctx context.Context, from, to time.Time) (int64, error)
	CountBansBetween(ctx context.Context, from, to time.Time) (int64, error)
	AddListEntry(ctx context.Context, kind database.ListKind, cidr, description string) (*database.ListEntry, error)
	RemoveListEntry(ctx context.Context, kind database.ListKind, cidr string) error
	ListEntries(ctx context.Context, kind database.ListKind) ([]database.ListEntry, error)
	ListPortRules(ctx context.Context, activeOnly bool) ([]database.PortRule, error)
	ListCustomRules(ctx context.Context, enabledOnly bool) ([]database.CustomRule, error)
	CreateCustomRule(ctx context.Context, rule *database.CustomRule) error
	UpdateCustomRule(ctx context.Context, rule *database.CustomRule) error
	SetCustomRuleEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteCustomRule(ctx context.Context, id int64) error
}

// Enforcer is the executor surface the handlers mutate through. Routing all
// writes through it keeps the single-writer and allow-list guarantees.
type Enforcer interface {
	Ban(ctx context.Context, req firewall.BanRequest) (*database.BanRecord, error)
	Unban(ctx context.Context, address string) (*database.BanRecord, error)
	OpenPort(ctx context.Context, port int32, protocol, source string) (*database.PortRule, error)
	ClosePort(ctx context.Context, port int32, protocol string) (*database.PortRule, error)
	BlockPort(ctx context.Context, port int32, protocol string) (*database.PortRule, error)
	AddRateLimit(ctx context.Context, limit, periodSeconds, port int32) error
	HealthCheck(ctx context.Context) (map[string]bool, error)
	BackendName() string
}

// Scorer reads and adjusts threat scores.
type Scorer interface {
	CurrentScore(ctx context.Context, baseHash string) (int32, scoring.RiskLevel, error)
	RiskFor(score int32) scoring.RiskLevel
	Apply(ctx context.Context, add scoring.Addition) (int32, error)
}

// Resolver annotates addresses with reverse DNS names for display.
type Resolver interface {
	Annotate(ctx context.Context, addresses []string) map[string]string
}

// Server is the admin HTTP surface, run as its own task beside the pipeline.
// Handlers only talk through the store, the executor and the scoring engine,
// so every mutation obeys the same invariants as the live pipeline.
type Server struct {
	cfg      *config.Config
	store    Store
	enforcer Enforcer
	scorer   Scorer
	filter   *config.Filter
	auditor  *audit.Logger
	mirror   *cache.Mirror
	resolver Resolver

	router  *gin.Engine
	started time.Time

	// local fallback for write throttling when the cache is absent
	writes *rate.Limiter
}

func NewServer(cfg *config.Config, store Store, enforcer Enforcer, scorer Scorer,
	filter *config.Filter, auditor *audit.Logger, mirror *cache.Mirror, resolver Resolver) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		store:    store,
		enforcer: enforcer,
		scorer:   scorer,
		filter:   filter,
		auditor:  auditor,
		mirror:   mirror,
		resolver: resolver,
		started:  time.Now(),
		writes:   rate.NewLimiter(rate.Limit(float64(writesPerMinute)/60.0), writesPerMinute),
	}

	router := gin.New()
	router.Use(s.requestLog(), gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/bans", s.handleListBans)
	router.POST("/bans", s.throttled(s.handleCreateBan))
	router.DELETE("/bans/:address", s.throttled(s.handleDeleteBan))

	router.GET("/scores/top", s.handleTopScores)
	router.GET("/scores/:base_hash", s.handleScoreDetail)
	router.POST("/scores/:base_hash/adjust", s.throttled(s.handleAdjustScore))

	router.GET("/threats/recent", s.handleRecentThreats)
	router.GET("/stats/overview", s.handleStatsOverview)
	router.GET("/stats/hourly", s.handleHourlyStats)

	router.GET("/chains/:id", s.handleChainDetail)
	router.GET("/logs/recent", s.handleRecentLogs)
	router.GET("/search/:address", s.handleSearch)

	router.GET("/ports", s.handleListPorts)
	router.POST("/ports/open", s.throttled(s.handleOpenPort))
	router.POST("/ports/close", s.throttled(s.handleClosePort))
	router.POST("/ports/block", s.throttled(s.handleBlockPort))
	router.POST("/ratelimits", s.throttled(s.handleCreateRateLimit))

	router.GET("/lists/:kind", s.handleListEntries)
	router.POST("/lists/:kind", s.throttled(s.handleAddListEntry))
	router.DELETE("/lists/:kind", s.throttled(s.handleRemoveListEntry))

	router.GET("/rules", s.handleListRules)
	router.POST("/rules", s.throttled(s.handleCreateRule))
	router.PUT("/rules/:id", s.throttled(s.handleUpdateRule))
	router.PATCH("/rules/:id", s.throttled(s.handleSetRuleEnabled))
	router.DELETE("/rules/:id", s.throttled(s.handleDeleteRule))

	s.router = router
	return s
}

// Handler exposes the routing tree for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.API.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	zlog.GetLogger().Info().Str("address", s.cfg.API.ListenAddress).Msg("admin api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		zlog.GetLogger().Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("api request")
	}
}

// throttled wraps a mutating handler with the admin write cap.
func (s *Server) throttled(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if count := s.mirror.IncrWindow(c.Request.Context(), "api_writes", time.Minute); count > 0 {
			if count > writesPerMinute {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "admin write limit reached, retry shortly"})
				return
			}
		} else if !s.writes.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "admin write limit reached, retry shortly"})
			return
		}
		handler(c)
	}
}
