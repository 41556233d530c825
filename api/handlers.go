package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/detect"
	"github.com/ramparthq/rampart/firewall"
	zlog "github.com/ramparthq/rampart/logger"
	"github.com/ramparthq/rampart/scoring"
	"github.com/ramparthq/rampart/util"
)

// overviewWindow is the lookback for the dashboard overview numbers.
const overviewWindow = 24 * time.Hour

type banRequest struct {
	Address         string `json:"address" binding:"required,ip"`
	Reason          string `json:"reason" binding:"omitempty,max=500"`
	DurationSeconds int64  `json:"duration_seconds" binding:"omitempty,gte=0,lte=31536000"`
	Permanent       bool   `json:"permanent"`
}

type scoreAdjustRequest struct {
	Delta  float64 `json:"delta" binding:"required"`
	Reason string  `json:"reason" binding:"required,max=500"`
}

type portRequest struct {
	Port     int32  `json:"port" binding:"required,gte=1,lte=65535"`
	Protocol string `json:"protocol" binding:"omitempty,oneof=tcp udp"`
	Source   string `json:"source" binding:"omitempty,cidr"`
}

type rateLimitRequest struct {
	Limit         int32 `json:"limit" binding:"required,gte=1"`
	PeriodSeconds int32 `json:"period_seconds" binding:"required,gte=1,lte=86400"`
	Port          int32 `json:"port" binding:"omitempty,gte=0,lte=65535"`
}

type listEntryRequest struct {
	CIDR        string `json:"cidr" binding:"required"`
	Description string `json:"description" binding:"omitempty,max=500"`
}

type ruleRequest struct {
	Name        string                   `json:"name" binding:"required,max=100"`
	Description string                   `json:"description" binding:"omitempty,max=500"`
	Conditions  []database.RuleCondition `json:"conditions" binding:"required,min=1"`
	Score       float64                  `json:"score" binding:"required,gt=0"`
	Severity    string                   `json:"severity" binding:"omitempty,oneof=low medium high critical"`
	Priority    int32                    `json:"priority" binding:"omitempty,gte=0"`
	Enabled     *bool                    `json:"enabled"`
}

// rule maps the request onto a storable rule. Severity defaults to medium
// and new rules are enabled unless the request says otherwise.
func (req *ruleRequest) rule() database.CustomRule {
	severity := config.Severity(req.Severity)
	if severity == "" {
		severity = config.MediumSeverity
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return database.CustomRule{
		Name:        req.Name,
		Description: req.Description,
		Conditions:  req.Conditions,
		Score:       req.Score,
		Severity:    severity,
		Priority:    req.Priority,
		Enabled:     enabled,
	}
}

type ruleToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// banView is a ban record plus its reverse DNS name when one is known.
type banView struct {
	database.BanRecord
	Hostname string `json:"hostname,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	dbOK := s.store.Ping(ctx) == nil

	firewallOK := true
	checks, err := s.enforcer.HealthCheck(ctx)
	if err != nil {
		firewallOK = false
	}
	for _, ok := range checks {
		firewallOK = firewallOK && ok
	}

	status := http.StatusOK
	state := "ok"
	if !dbOK || !firewallOK {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status":         state,
		"database":       dbOK,
		"firewall":       checks,
		"backend":        s.enforcer.BackendName(),
		"cache":          s.mirror.Stats(ctx),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListBans(c *gin.Context) {
	ctx := c.Request.Context()

	records, err := s.store.ActiveBans(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	addresses := make([]string, 0, len(records))
	for _, record := range records {
		addresses = append(addresses, record.IPAddress)
	}
	hostnames := s.annotate(ctx, addresses)

	views := make([]banView, 0, len(records))
	for _, record := range records {
		views = append(views, banView{BanRecord: record, Hostname: hostnames[record.IPAddress]})
	}
	c.JSON(http.StatusOK, gin.H{"bans": views, "count": len(views)})
}

func (s *Server) handleCreateBan(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual ban"
	}

	record, err := s.enforcer.Ban(c.Request.Context(), firewall.BanRequest{
		Address:   req.Address,
		Reason:    req.Reason,
		Duration:  time.Duration(req.DurationSeconds) * time.Second,
		Permanent: req.Permanent,
	})
	switch {
	case errors.Is(err, firewall.ErrAllowlisted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, firewall.ErrBadAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleDeleteBan(c *gin.Context) {
	record, err := s.enforcer.Unban(c.Request.Context(), c.Param("address"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active ban for address"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleTopScores(c *gin.Context) {
	limit := intQuery(c, "limit", 50, 500)

	fingerprints, err := s.store.TopFingerprints(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fingerprints": fingerprints, "count": len(fingerprints)})
}

func (s *Server) handleScoreDetail(c *gin.Context) {
	ctx := c.Request.Context()
	baseHash := c.Param("base_hash")

	fp, err := s.store.GetFingerprint(ctx, baseHash)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown fingerprint"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	score, ok := s.mirror.GetScore(ctx, baseHash)
	var risk scoring.RiskLevel
	if ok {
		risk = s.scorer.RiskFor(score)
	} else {
		score, risk, err = s.scorer.CurrentScore(ctx, baseHash)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.mirror.SetScore(ctx, baseHash, score)
	}

	history, err := s.store.ScoreHistoryFor(ctx, baseHash, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fingerprint": fp,
		"score":       score,
		"risk":        risk,
		"history":     history,
	})
}

func (s *Server) handleAdjustScore(c *gin.Context) {
	ctx := c.Request.Context()
	baseHash := c.Param("base_hash")

	var req scoreAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fp, err := s.store.GetFingerprint(ctx, baseHash)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown fingerprint"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	total, err := s.scorer.Apply(ctx, scoring.Addition{
		BaseHash: baseHash,
		Delta:    req.Delta,
		Reason:   req.Reason,
		Operator: operatorAPI,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.auditor.LogScoreAdjust(baseHash, fp.ThreatScore, total, req.Reason, operatorAPI)
	s.mirror.SetScore(ctx, baseHash, total)

	c.JSON(http.StatusOK, gin.H{
		"base_hash": baseHash,
		"previous":  fp.ThreatScore,
		"score":     total,
		"risk":      s.scorer.RiskFor(total),
	})
}

func (s *Server) handleRecentThreats(c *gin.Context) {
	limit := intQuery(c, "limit", 50, 500)
	address := c.Query("address")

	events, err := s.store.RecentThreats(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"threats": events, "count": len(events)})
}

func (s *Server) handleStatsOverview(c *gin.Context) {
	ctx := c.Request.Context()
	to := time.Now()
	from := to.Add(-overviewWindow)

	total, unique, err := s.store.RequestCountBetween(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	threats, err := s.store.CountThreatsBetween(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	bans, err := s.store.CountBansBetween(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	active, err := s.store.ActiveBans(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window_hours":     int(overviewWindow.Hours()),
		"total_requests":   total,
		"unique_addresses": unique,
		"threats_detected": threats,
		"bans_applied":     bans,
		"active_bans":      len(active),
	})
}

func (s *Server) handleHourlyStats(c *gin.Context) {
	hours := intQuery(c, "hours", 24, 168)

	stats, err := s.store.RecentStatistics(c.Request.Context(), hours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats, "count": len(stats)})
}

func (s *Server) handleChainDetail(c *gin.Context) {
	chain, err := s.store.GetChain(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown identity chain"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (s *Server) handleRecentLogs(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address query parameter is required"})
		return
	}
	limit := intQuery(c, "limit", 100, 1000)

	logs, err := s.store.RecentLogsByAddress(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (s *Server) handleSearch(c *gin.Context) {
	ctx := c.Request.Context()
	address := c.Param("address")
	if net.ParseIP(address) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ip address"})
		return
	}

	ban, err := s.store.GetActiveBan(ctx, address)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	threats, err := s.store.RecentThreats(ctx, address, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logs, err := s.store.RecentLogsByAddress(ctx, address, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":     address,
		"hostname":    s.annotate(ctx, []string{address})[address],
		"banned":      ban != nil,
		"ban":         ban,
		"allowlisted": s.filter.Allowed(address),
		"threats":     threats,
		"recent_logs": logs,
	})
}

func (s *Server) handleListPorts(c *gin.Context) {
	rules, err := s.store.ListPortRules(c.Request.Context(), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ports": rules, "count": len(rules)})
}

func (s *Server) handleOpenPort(c *gin.Context) {
	s.portChange(c, func(ctx context.Context, req portRequest) (*database.PortRule, error) {
		return s.enforcer.OpenPort(ctx, req.Port, req.Protocol, req.Source)
	})
}

func (s *Server) handleClosePort(c *gin.Context) {
	s.portChange(c, func(ctx context.Context, req portRequest) (*database.PortRule, error) {
		return s.enforcer.ClosePort(ctx, req.Port, req.Protocol)
	})
}

func (s *Server) handleBlockPort(c *gin.Context) {
	s.portChange(c, func(ctx context.Context, req portRequest) (*database.PortRule, error) {
		return s.enforcer.BlockPort(ctx, req.Port, req.Protocol)
	})
}

func (s *Server) portChange(c *gin.Context, apply func(context.Context, portRequest) (*database.PortRule, error)) {
	var req portRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Protocol == "" {
		req.Protocol = "tcp"
	}

	rule, err := apply(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleCreateRateLimit(c *gin.Context) {
	var req rateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.enforcer.AddRateLimit(c.Request.Context(), req.Limit, req.PeriodSeconds, req.Port); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.auditor.LogRateLimit(req.Limit, req.PeriodSeconds, req.Port, operatorAPI)
	c.JSON(http.StatusCreated, gin.H{
		"limit":          req.Limit,
		"period_seconds": req.PeriodSeconds,
		"port":           req.Port,
	})
}

func (s *Server) handleListEntries(c *gin.Context) {
	kind, ok := listKind(c)
	if !ok {
		return
	}

	entries, err := s.store.ListEntries(c.Request.Context(), kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) handleAddListEntry(c *gin.Context) {
	ctx := c.Request.Context()
	kind, ok := listKind(c)
	if !ok {
		return
	}

	var req listEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := util.ParseSubnet(req.CIDR); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := s.store.AddListEntry(ctx, kind, req.CIDR, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.auditor.LogListAdd(kind, req.CIDR, req.Description, operatorAPI)
	s.reloadFilter(ctx, kind)
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleRemoveListEntry(c *gin.Context) {
	ctx := c.Request.Context()
	kind, ok := listKind(c)
	if !ok {
		return
	}

	cidr := c.Query("cidr")
	if cidr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cidr query parameter is required"})
		return
	}

	err := s.store.RemoveListEntry(ctx, kind, cidr)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cidr is not on the list"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.reloadFilter(ctx, kind)
	c.JSON(http.StatusOK, gin.H{"removed": cidr})
}

// Custom rule changes land in the store immediately and reach the live
// pipeline at the rule engine's next reload.

func (s *Server) handleListRules(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"

	rules, err := s.store.ListCustomRules(c.Request.Context(), enabledOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := req.rule()
	if err := detect.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.CreateCustomRule(c.Request.Context(), &rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := req.rule()
	rule.ID = id
	if err := detect.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.store.UpdateCustomRule(c.Request.Context(), &rule)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleSetRuleEnabled(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}

	var req ruleToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.store.SetCustomRuleEnabled(c.Request.Context(), id, *req.Enabled)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": *req.Enabled})
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}

	err := s.store.DeleteCustomRule(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown rule"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// reloadFilter rebuilds one side of the runtime filter from the configured
// subnets plus the persisted list, then refreshes the cache mirror. Reload
// failures only log: the store row is already correct and the filter catches
// up on the next change or restart.
func (s *Server) reloadFilter(ctx context.Context, kind database.ListKind) {
	entries, err := s.store.ListEntries(ctx, kind)
	if err != nil {
		zlog.GetLogger().Error().Err(err).Str("list", string(kind)).Msg("failed to reload list entries")
		return
	}

	cidrs := make([]string, 0, len(entries))
	for _, entry := range entries {
		cidrs = append(cidrs, entry.CIDR)
	}
	subnets, err := util.NewSubnetList(cidrs)
	if err != nil {
		zlog.GetLogger().Error().Err(err).Str("list", string(kind)).Msg("persisted list contains a bad cidr")
		return
	}

	switch kind {
	case database.Allowlist:
		s.filter.ReplaceAllowed(append(subnets, s.cfg.Filtering.AllowedSubnets...))
		s.mirror.SyncAllowlist(ctx, cidrs)
	case database.Denylist:
		s.filter.ReplaceBlocked(append(subnets, s.cfg.Filtering.BlockedSubnets...))
		s.mirror.SyncDenylist(ctx, cidrs)
	}
}

func (s *Server) annotate(ctx context.Context, addresses []string) map[string]string {
	if s.resolver == nil {
		return map[string]string{}
	}
	return s.resolver.Annotate(ctx, addresses)
}

// ruleID parses the :id route parameter, replying 400 itself on junk.
func ruleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// listKind maps the :kind route parameter onto a persisted list, replying
// 400 itself when the name is unknown.
func listKind(c *gin.Context) (database.ListKind, bool) {
	switch c.Param("kind") {
	case string(database.Allowlist):
		return database.Allowlist, true
	case string(database.Denylist):
		return database.Denylist, true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "list kind must be allowlist or denylist"})
		return "", false
	}
}

func intQuery(c *gin.Context, name string, fallback, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}
