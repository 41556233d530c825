package detect

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/ingest"
	"github.com/ramparthq/rampart/logger"
)

// condition types accepted by the custom rule engine
const (
	CondPathContains      = "path_contains"
	CondPathPattern       = "path_pattern"
	CondUserAgentContains = "user_agent_contains"
	CondUserAgentPattern  = "user_agent_pattern"
	CondStatusCode        = "status_code"
	CondStatusCodeRange   = "status_code_range"
	CondRequestMethod     = "request_method"
	CondQueryContains     = "query_contains"
	CondHasReferer        = "has_referer"
	CondResponseSizeGT    = "response_size_gt"
	CondResponseSizeLT    = "response_size_lt"
	CondTimeRange         = "time_range"
)

// RuleStore is the slice of the store the rule engine reads from.
type RuleStore interface {
	ListCustomRules(ctx context.Context, enabledOnly bool) ([]database.CustomRule, error)
}

// RuleMatch is one custom rule hit. Scores are additive: the pipeline feeds
// every match's score to the scoring engine.
type RuleMatch struct {
	RuleName string
	Score    float64
	Severity config.Severity
	Priority int32
}

type matcher func(rec *ingest.Record, now time.Time) bool

type compiledRule struct {
	name     string
	score    float64
	severity config.Severity
	priority int32
	matchers []matcher
}

func (r *compiledRule) matches(rec *ingest.Record, now time.Time) bool {
	// conditions are AND-ed
	for _, match := range r.matchers {
		if !match(rec, now) {
			return false
		}
	}
	return true
}

// RuleEngine evaluates admin-defined rules against each record. Rules are
// reloaded from the store on an interval so that admin edits take effect
// without a restart. Safe for concurrent readers.
type RuleEngine struct {
	store    RuleStore
	interval time.Duration

	mu    sync.RWMutex
	rules []compiledRule
}

func NewRuleEngine(store RuleStore, cfg *config.Detection) *RuleEngine {
	return &RuleEngine{
		store:    store,
		interval: time.Duration(cfg.RuleReloadSeconds) * time.Second,
	}
}

// Reload fetches the enabled rules and swaps in their compiled forms. The
// store returns rules ordered by descending priority and that order is kept.
// A rule with a condition that fails to compile is logged and skipped;
// the other rules still load.
func (e *RuleEngine) Reload(ctx context.Context) error {
	rules, err := e.store.ListCustomRules(ctx, true)
	if err != nil {
		return err
	}

	zlog := logger.GetLogger()
	compiled := make([]compiledRule, 0, len(rules))
	for i := range rules {
		rule, err := compileRule(&rules[i])
		if err != nil {
			zlog.Warn().Err(err).Str("rule", rules[i].Name).Msg("skipping custom rule")
			continue
		}
		compiled = append(compiled, rule)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Run reloads the rules on the configured interval until the context ends.
// A zero interval disables reloading; the rules loaded by the initial Reload
// then stay fixed for the life of the process.
func (e *RuleEngine) Run(ctx context.Context) {
	if e.interval <= 0 {
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Reload(ctx); err != nil {
				logger.GetLogger().Err(err).Msg("failed to reload custom rules")
			}
		}
	}
}

// RuleCount returns how many rules are currently loaded.
func (e *RuleEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate returns the matching rules in priority order. Every condition of
// a rule must hold for the rule to match. The clock is passed in because
// time_range conditions compare against it.
func (e *RuleEngine) Evaluate(rec *ingest.Record, now time.Time) []RuleMatch {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	var matches []RuleMatch
	for i := range rules {
		if !rules[i].matches(rec, now) {
			continue
		}
		matches = append(matches, RuleMatch{
			RuleName: rules[i].name,
			Score:    rules[i].score,
			Severity: rules[i].severity,
			Priority: rules[i].priority,
		})
	}
	return matches
}

// ValidateRule reports whether every condition of a rule compiles. The admin
// surface calls it before storing a rule so a typo cannot poison the reload.
func ValidateRule(rule *database.CustomRule) error {
	_, err := compileRule(rule)
	return err
}

func compileRule(rule *database.CustomRule) (compiledRule, error) {
	compiled := compiledRule{
		name:     rule.Name,
		score:    rule.Score,
		severity: rule.Severity,
		priority: rule.Priority,
	}
	if compiled.severity == "" {
		compiled.severity = config.MediumSeverity
	}

	for _, cond := range rule.Conditions {
		match, err := compileCondition(cond)
		if err != nil {
			return compiledRule{}, fmt.Errorf("condition %q: %w", cond.Type, err)
		}
		compiled.matchers = append(compiled.matchers, match)
	}
	return compiled, nil
}

func compileCondition(cond database.RuleCondition) (matcher, error) {
	value := cond.Value

	switch cond.Type {
	case CondPathContains:
		return func(rec *ingest.Record, _ time.Time) bool {
			return strings.Contains(rec.Path, value)
		}, nil

	case CondPathPattern:
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, err
		}
		return func(rec *ingest.Record, _ time.Time) bool {
			return re.MatchString(rec.Path)
		}, nil

	case CondUserAgentContains:
		needle := strings.ToLower(value)
		return func(rec *ingest.Record, _ time.Time) bool {
			return strings.Contains(strings.ToLower(rec.UserAgent), needle)
		}, nil

	case CondUserAgentPattern:
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, err
		}
		return func(rec *ingest.Record, _ time.Time) bool {
			return re.MatchString(rec.UserAgent)
		}, nil

	case CondStatusCode:
		codes, err := parseCodeList(value)
		if err != nil {
			return nil, err
		}
		return func(rec *ingest.Record, _ time.Time) bool {
			for _, code := range codes {
				if rec.StatusCode == code {
					return true
				}
			}
			return false
		}, nil

	case CondStatusCodeRange:
		low, high, err := parseCodeRange(value)
		if err != nil {
			return nil, err
		}
		return func(rec *ingest.Record, _ time.Time) bool {
			return rec.StatusCode >= low && rec.StatusCode <= high
		}, nil

	case CondRequestMethod:
		methods := splitList(value)
		return func(rec *ingest.Record, _ time.Time) bool {
			for _, method := range methods {
				if strings.EqualFold(rec.Method, method) {
					return true
				}
			}
			return false
		}, nil

	case CondQueryContains:
		return func(rec *ingest.Record, _ time.Time) bool {
			return strings.Contains(rec.Query, value)
		}, nil

	case CondHasReferer:
		want, err := strconv.ParseBool(value)
		if err != nil {
			return nil, err
		}
		return func(rec *ingest.Record, _ time.Time) bool {
			return rec.HasReferer() == want
		}, nil

	case CondResponseSizeGT:
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return func(rec *ingest.Record, _ time.Time) bool {
			return rec.ResponseSize > size
		}, nil

	case CondResponseSizeLT:
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return func(rec *ingest.Record, _ time.Time) bool {
			return rec.ResponseSize < size
		}, nil

	case CondTimeRange:
		start, end, err := parseClockRange(value)
		if err != nil {
			return nil, err
		}
		return func(_ *ingest.Record, now time.Time) bool {
			minute := now.Hour()*60 + now.Minute()
			if start <= end {
				return minute >= start && minute <= end
			}
			// the range wraps midnight
			return minute >= start || minute <= end
		}, nil
	}

	return nil, fmt.Errorf("unknown condition type %q", cond.Type)
}

// parseCodeList parses a comma separated list of status codes, e.g. "403,404".
func parseCodeList(value string) ([]int32, error) {
	parts := splitList(value)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty status code list")
	}

	codes := make([]int32, 0, len(parts))
	for _, part := range parts {
		code, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, err
		}
		codes = append(codes, int32(code))
	}
	return codes, nil
}

// parseCodeRange parses an inclusive range such as "400-499".
func parseCodeRange(value string) (int32, int32, error) {
	lowStr, highStr, ok := strings.Cut(value, "-")
	if !ok {
		return 0, 0, fmt.Errorf("range %q must look like 400-499", value)
	}

	low, err := strconv.ParseInt(strings.TrimSpace(lowStr), 10, 32)
	if err != nil {
		return 0, 0, err
	}
	high, err := strconv.ParseInt(strings.TrimSpace(highStr), 10, 32)
	if err != nil {
		return 0, 0, err
	}
	if high < low {
		return 0, 0, fmt.Errorf("range %q is inverted", value)
	}
	return int32(low), int32(high), nil
}

// parseClockRange parses "HH:MM-HH:MM" into minutes since midnight. Start
// after end means the range wraps midnight.
func parseClockRange(value string) (int, int, error) {
	startStr, endStr, ok := strings.Cut(value, "-")
	if !ok {
		return 0, 0, fmt.Errorf("time range %q must look like 02:00-05:00", value)
	}

	start, err := parseClock(strings.TrimSpace(startStr))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(strings.TrimSpace(endStr))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
