package detect

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/ingest"
	"github.com/ramparthq/rampart/logger"
)

// Finding is one detector hit for a record.
type Finding struct {
	ThreatType  string
	Severity    config.Severity
	Description string
	Details     map[string]interface{}
}

// Detector runs the detection battery over parsed records.
//
// A Detector is not safe for concurrent use. The pipeline creates one per
// worker and shards records by address, so every address's sliding windows
// have exactly one writer.
type Detector struct {
	cfg *config.Detection

	sqlPatterns    []*regexp.Regexp
	xssPatterns    []*regexp.Regexp
	agentPatterns  []*regexp.Regexp
	sensitivePaths []string

	requests *addressWindows
	notFound *addressWindows

	// a windowed check fires once when its count crosses the threshold and
	// stays quiet until the window drains back under it, so a sustained
	// flood produces one finding per burst rather than one per request
	rateOver map[string]bool
	scanOver map[string]bool
}

func NewDetector(cfg *config.Detection) *Detector {
	return &Detector{
		cfg:            cfg,
		sqlPatterns:    compilePatterns(cfg.SQLInjectionPatterns),
		xssPatterns:    compilePatterns(cfg.XSSPatterns),
		agentPatterns:  compilePatterns(cfg.BadUserAgents),
		sensitivePaths: cfg.SensitivePaths,
		requests:       newAddressWindows(int(cfg.RequestHistory)),
		notFound:       newAddressWindows(int(cfg.NotFoundHistory)),
		rateOver:       make(map[string]bool),
		scanOver:       make(map[string]bool),
	}
}

// compilePatterns compiles each expression case-insensitively. Invalid
// expressions are logged and skipped so that one bad pattern never takes
// down the battery.
func compilePatterns(patterns []string) []*regexp.Regexp {
	zlog := logger.GetLogger()

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			zlog.Warn().Err(err).Str("pattern", pattern).Msg("skipping invalid detection pattern")
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// Detect runs every check in a fixed order and collects the findings. Window
// arithmetic uses the record's own timestamp so that batch replays of
// historical logs produce the same findings a live tail would have.
func (d *Detector) Detect(rec *ingest.Record) []Finding {
	var findings []Finding
	for _, check := range []func(*ingest.Record) *Finding{
		d.checkRateLimit,
		d.checkPathScan,
		d.checkSQLInjection,
		d.checkXSS,
		d.checkSensitivePath,
		d.checkBadUserAgent,
	} {
		if finding := check(rec); finding != nil {
			findings = append(findings, *finding)
		}
	}
	return findings
}

func (d *Detector) checkRateLimit(rec *ingest.Record) *Finding {
	window := time.Duration(d.cfg.RateLimit.WindowSeconds) * time.Second
	count := d.requests.observe(rec.IPAddress, rec.Timestamp, window)

	over := count > d.cfg.RateLimit.MaxCount
	wasOver := d.rateOver[rec.IPAddress]
	d.rateOver[rec.IPAddress] = over
	if !over || wasOver {
		return nil
	}

	return &Finding{
		ThreatType:  config.ThreatRateLimitExceeded,
		Severity:    config.HighSeverity,
		Description: fmt.Sprintf("request rate too high: %d requests in %ds", count, d.cfg.RateLimit.WindowSeconds),
		Details: map[string]interface{}{
			"request_count":  count,
			"window_seconds": d.cfg.RateLimit.WindowSeconds,
			"max_allowed":    d.cfg.RateLimit.MaxCount,
		},
	}
}

func (d *Detector) checkPathScan(rec *ingest.Record) *Finding {
	if rec.StatusCode != 404 {
		return nil
	}

	window := time.Duration(d.cfg.PathScan.WindowSeconds) * time.Second
	count := d.notFound.observe(rec.IPAddress, rec.Timestamp, window)

	over := count > d.cfg.PathScan.MaxCount
	wasOver := d.scanOver[rec.IPAddress]
	d.scanOver[rec.IPAddress] = over
	if !over || wasOver {
		return nil
	}

	return &Finding{
		ThreatType:  config.ThreatPathScan,
		Severity:    config.HighSeverity,
		Description: fmt.Sprintf("suspected path scan: %d 404s in %ds", count, d.cfg.PathScan.WindowSeconds),
		Details: map[string]interface{}{
			"404_count":      count,
			"window_seconds": d.cfg.PathScan.WindowSeconds,
			"max_allowed":    d.cfg.PathScan.MaxCount,
		},
	}
}

func (d *Detector) checkSQLInjection(rec *ingest.Record) *Finding {
	pattern, matched := matchAny(d.sqlPatterns, rec.Path, rec.Query)
	if pattern == "" {
		return nil
	}

	return &Finding{
		ThreatType:  config.ThreatSQLInjection,
		Severity:    config.CriticalSeverity,
		Description: "sql injection signature in request",
		Details: map[string]interface{}{
			"matched_pattern": pattern,
			"request_path":    rec.Path,
			"matched_in":      truncate(matched, 200),
		},
	}
}

func (d *Detector) checkXSS(rec *ingest.Record) *Finding {
	pattern, matched := matchAny(d.xssPatterns, rec.Path, rec.Query)
	if pattern == "" {
		return nil
	}

	return &Finding{
		ThreatType:  config.ThreatXSSAttack,
		Severity:    config.HighSeverity,
		Description: "xss signature in request",
		Details: map[string]interface{}{
			"matched_pattern": pattern,
			"request_path":    rec.Path,
			"matched_in":      truncate(matched, 200),
		},
	}
}

func (d *Detector) checkSensitivePath(rec *ingest.Record) *Finding {
	for _, sensitive := range d.sensitivePaths {
		if !strings.Contains(rec.Path, sensitive) {
			continue
		}

		return &Finding{
			ThreatType:  config.ThreatSensitivePathAccess,
			Severity:    config.MediumSeverity,
			Description: fmt.Sprintf("sensitive path access: %s", sensitive),
			Details: map[string]interface{}{
				"sensitive_path": sensitive,
				"full_path":      rec.Path,
			},
		}
	}
	return nil
}

func (d *Detector) checkBadUserAgent(rec *ingest.Record) *Finding {
	agent := strings.ToLower(rec.UserAgent)
	for _, re := range d.agentPatterns {
		if !re.MatchString(agent) {
			continue
		}

		return &Finding{
			ThreatType:  config.ThreatBadUserAgent,
			Severity:    config.MediumSeverity,
			Description: "scanner user agent detected",
			Details: map[string]interface{}{
				"matched_pattern": re.String(),
				"user_agent":      truncate(agent, 200),
			},
		}
	}
	return nil
}

// matchAny reports the first pattern matching any candidate, checking the
// candidates in order.
func matchAny(patterns []*regexp.Regexp, candidates ...string) (pattern string, matched string) {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		for _, re := range patterns {
			if re.MatchString(candidate) {
				return re.String(), candidate
			}
		}
	}
	return "", ""
}

// truncate keeps detail payloads bounded.
func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
