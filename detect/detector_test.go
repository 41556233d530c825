package detect

import (
	"testing"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/ingest"

	"github.com/stretchr/testify/require"
)

// testDetection returns the default detection config with thresholds small
// enough to trip from a handful of records.
func testDetection() *config.Detection {
	cfg := config.GetDefaultConfig()
	detection := cfg.Detection
	detection.RateLimit = config.WindowThreshold{WindowSeconds: 60, MaxCount: 5}
	detection.PathScan = config.WindowThreshold{WindowSeconds: 300, MaxCount: 3}
	return &detection
}

func benignRecord(ts time.Time) *ingest.Record {
	return &ingest.Record{
		Timestamp:    ts,
		IPAddress:    "203.0.113.7",
		Method:       "GET",
		Path:         "/index.html",
		StatusCode:   200,
		ResponseSize: 512,
		Referer:      "-",
		UserAgent:    "Mozilla/5.0",
	}
}

func findingTypes(findings []Finding) []string {
	types := make([]string, 0, len(findings))
	for _, f := range findings {
		types = append(types, f.ThreatType)
	}
	return types
}

func TestRateLimitDetector(t *testing.T) {
	detector := NewDetector(testDetection())
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	// the threshold is strictly greater than, so five requests stay quiet
	for i := 0; i < 5; i++ {
		findings := detector.Detect(benignRecord(start.Add(time.Duration(i) * time.Second)))
		require.Empty(t, findings)
	}

	findings := detector.Detect(benignRecord(start.Add(5 * time.Second)))
	require.Len(t, findings, 1)
	require.Equal(t, config.ThreatRateLimitExceeded, findings[0].ThreatType)
	require.Equal(t, config.HighSeverity, findings[0].Severity)
	require.EqualValues(t, 6, findings[0].Details["request_count"])

	// staying over the threshold does not fire again
	findings = detector.Detect(benignRecord(start.Add(6 * time.Second)))
	require.Empty(t, findings)

	// requests outside the window age out and re-arm the check
	findings = detector.Detect(benignRecord(start.Add(10 * time.Minute)))
	require.Empty(t, findings)

	for i := 1; i <= 4; i++ {
		findings = detector.Detect(benignRecord(start.Add(10*time.Minute + time.Duration(i)*time.Second)))
		require.Empty(t, findings)
	}
	findings = detector.Detect(benignRecord(start.Add(10*time.Minute + 5*time.Second)))
	require.Len(t, findings, 1)
	require.Equal(t, config.ThreatRateLimitExceeded, findings[0].ThreatType)
}

func TestPathScanDetector(t *testing.T) {
	// keep the rate limit out of the way so only the 404 window can fire
	detection := testDetection()
	detection.RateLimit = config.WindowThreshold{WindowSeconds: 60, MaxCount: 100}
	detector := NewDetector(detection)
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	notFound := func(ts time.Time) *ingest.Record {
		rec := benignRecord(ts)
		rec.Path = "/missing"
		rec.StatusCode = 404
		return rec
	}

	for i := 0; i < 3; i++ {
		findings := detector.Detect(notFound(start.Add(time.Duration(i) * time.Second)))
		require.Empty(t, findings)
	}

	// successful requests never count toward the 404 window
	findings := detector.Detect(benignRecord(start.Add(3 * time.Second)))
	require.Empty(t, findings)

	findings = detector.Detect(notFound(start.Add(4 * time.Second)))
	require.Len(t, findings, 1)
	require.Equal(t, config.ThreatPathScan, findings[0].ThreatType)
	require.Equal(t, config.HighSeverity, findings[0].Severity)
	require.EqualValues(t, 4, findings[0].Details["404_count"])

	// further 404s inside the same burst stay quiet
	findings = detector.Detect(notFound(start.Add(5 * time.Second)))
	require.Empty(t, findings)
}

func TestSQLInjectionDetector(t *testing.T) {
	detector := NewDetector(testDetection())

	rec := benignRecord(time.Now())
	rec.Path = "/products"
	rec.Query = "id=1' OR '1'='1"

	findings := detector.Detect(rec)
	require.Len(t, findings, 1)
	require.Equal(t, config.ThreatSQLInjection, findings[0].ThreatType)
	require.Equal(t, config.CriticalSeverity, findings[0].Severity)
	require.Equal(t, rec.Query, findings[0].Details["matched_in"])
	require.NotEmpty(t, findings[0].Details["matched_pattern"])
}

func TestXSSDetector(t *testing.T) {
	detector := NewDetector(testDetection())

	rec := benignRecord(time.Now())
	rec.Path = "/search"
	rec.Query = "q=<SCRIPT>alert(1)</SCRIPT>"

	findings := detector.Detect(rec)
	require.Len(t, findings, 1)
	require.Equal(t, config.ThreatXSSAttack, findings[0].ThreatType)
	require.Equal(t, config.HighSeverity, findings[0].Severity)
}

func TestSensitivePathDetector(t *testing.T) {
	detector := NewDetector(testDetection())

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "env file", path: "/.env", want: "/.env"},
		{name: "nested git dir", path: "/repo/.git/config", want: "/.git"},
		{name: "wordpress admin", path: "/wp-admin/setup.php", want: "/wp-admin"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := benignRecord(time.Now())
			rec.Path = test.path

			findings := detector.Detect(rec)
			require.Len(t, findings, 1)
			require.Equal(t, config.ThreatSensitivePathAccess, findings[0].ThreatType)
			require.Equal(t, config.MediumSeverity, findings[0].Severity)
			require.Equal(t, test.want, findings[0].Details["sensitive_path"])
		})
	}
}

func TestBadUserAgentDetector(t *testing.T) {
	detector := NewDetector(testDetection())

	rec := benignRecord(time.Now())
	rec.UserAgent = "sqlmap/1.7.2#stable (http://sqlmap.org)"

	findings := detector.Detect(rec)
	require.Len(t, findings, 1)
	require.Equal(t, config.ThreatBadUserAgent, findings[0].ThreatType)
	require.Equal(t, config.MediumSeverity, findings[0].Severity)

	// matching is case-insensitive
	rec = benignRecord(time.Now())
	rec.UserAgent = "Mozilla/5.0 NIKTO"
	findings = detector.Detect(rec)
	require.Len(t, findings, 1)
	require.Equal(t, config.ThreatBadUserAgent, findings[0].ThreatType)
}

func TestDetectOrdersFindings(t *testing.T) {
	detection := testDetection()
	detection.PathScan = config.WindowThreshold{WindowSeconds: 300, MaxCount: 5}
	detector := NewDetector(detection)
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	attack := func(ts time.Time) *ingest.Record {
		rec := benignRecord(ts)
		rec.Path = "/missing"
		rec.Query = "id=1' or 1=1--"
		rec.StatusCode = 404
		return rec
	}

	// both windows cross their thresholds on the sixth record
	var findings []Finding
	for i := 0; i < 6; i++ {
		findings = detector.Detect(attack(start.Add(time.Duration(i) * time.Second)))
	}

	require.Equal(t, []string{
		config.ThreatRateLimitExceeded,
		config.ThreatPathScan,
		config.ThreatSQLInjection,
	}, findingTypes(findings))
}

func TestCompilePatternsSkipsInvalid(t *testing.T) {
	compiled := compilePatterns([]string{"union.*select", "(unclosed"})
	require.Len(t, compiled, 1)
	require.True(t, compiled[0].MatchString("UNION ALL SELECT"))
}

func TestRingEviction(t *testing.T) {
	r := newRing(3)
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r.push(base.Add(time.Duration(i) * time.Second))
	}

	// capacity 3 keeps only the newest three entries
	require.EqualValues(t, 3, r.countSince(base))
	require.EqualValues(t, 2, r.countSince(base.Add(3*time.Second)))
	require.EqualValues(t, 0, r.countSince(base.Add(10*time.Second)))
}
