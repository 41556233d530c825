package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/logger"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

// audit actions, one constant per administrative mutation
const (
	ActionBan          = "ban"
	ActionUnban        = "unban"
	ActionPortOpen     = "port_open"
	ActionPortClose    = "port_close"
	ActionPortBlock    = "port_block"
	ActionRateLimitAdd = "rate_limit_add"
	ActionScoreAdjust  = "score_adjust"
	ActionWhitelistAdd = "whitelist_add"
	ActionBlacklistAdd = "blacklist_add"
	ActionSystemStart  = "system_start"
	ActionSystemStop   = "system_stop"
)

const logName = "audit.log"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one audit record, serialized as a single JSON line.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Operator  string                 `json:"operator"`
	Target    string                 `json:"target"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Result    string                 `json:"result"`
}

// Logger appends audit entries to an append-only JSONL file, rotating it
// once it grows past the configured size. Safe for concurrent use.
type Logger struct {
	afs      afero.Fs
	dir      string
	maxBytes int64

	mu  sync.Mutex
	now func() time.Time
}

func NewLogger(afs afero.Fs, cfg *config.Audit) *Logger {
	return &Logger{
		afs:      afs,
		dir:      cfg.Directory,
		maxBytes: int64(cfg.MaxSizeMB) * 1024 * 1024,
		now:      time.Now,
	}
}

// Record appends one entry. A zero timestamp, empty operator, and empty
// result are filled with now, "system", and "success".
func (l *Logger) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	if entry.Operator == "" {
		entry.Operator = "system"
	}
	if entry.Result == "" {
		entry.Result = "success"
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	if err := l.afs.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	l.rotateIfNeeded()

	file, err := l.afs.OpenFile(l.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (l *Logger) path() string {
	return filepath.Join(l.dir, logName)
}

// rotateIfNeeded renames the current log aside once it reaches the size
// cap. A failed rotation is logged and the entry still lands in the
// oversized file; losing an audit record is worse than an oversized log.
func (l *Logger) rotateIfNeeded() {
	info, err := l.afs.Stat(l.path())
	if err != nil || info.Size() < l.maxBytes {
		return
	}

	rotated := filepath.Join(l.dir, fmt.Sprintf("audit_%s.log", l.now().Format("20060102_150405")))
	if err := l.afs.Rename(l.path(), rotated); err != nil {
		logger.GetLogger().Warn().Err(err).Str("path", l.path()).Msg("failed to rotate audit log")
	}
}

// record logs helper failures instead of returning them: the audit trail is
// a side channel and must never fail the action it describes.
func (l *Logger) record(entry Entry) {
	if err := l.Record(entry); err != nil {
		logger.GetLogger().Warn().Err(err).Str("action", entry.Action).Msg("failed to write audit entry")
	}
}

// LogBan records an applied ban.
func (l *Logger) LogBan(record *database.BanRecord, operator string) {
	details := map[string]interface{}{
		"reason":    record.Reason,
		"permanent": record.IsPermanent,
		"ban_count": record.BanCount,
	}
	if record.BanUntil != nil {
		details["ban_until"] = record.BanUntil.Format(time.RFC3339)
		details["duration_seconds"] = int64(record.BanUntil.Sub(record.BannedAt).Seconds())
	}
	l.record(Entry{
		Action:   ActionBan,
		Operator: operator,
		Target:   record.IPAddress,
		Details:  details,
	})
}

// LogUnban records a lifted ban.
func (l *Logger) LogUnban(record *database.BanRecord, operator string) {
	l.record(Entry{
		Action:   ActionUnban,
		Operator: operator,
		Target:   record.IPAddress,
		Details:  map[string]interface{}{"reason": record.Reason, "ban_count": record.BanCount},
	})
}

// LogPortChange records a port rule change under the matching action.
func (l *Logger) LogPortChange(rule *database.PortRule, operator string) {
	action := ActionPortOpen
	switch rule.Action {
	case "close":
		action = ActionPortClose
	case "block":
		action = ActionPortBlock
	}

	details := map[string]interface{}{
		"port":     rule.Port,
		"protocol": rule.Protocol,
	}
	if rule.Source != "" {
		details["source"] = rule.Source
	}
	l.record(Entry{
		Action:   action,
		Operator: operator,
		Target:   fmt.Sprintf("%d/%s", rule.Port, rule.Protocol),
		Details:  details,
	})
}

// LogRateLimit records a new kernel rate limit rule.
func (l *Logger) LogRateLimit(limit, periodSeconds, port int32, operator string) {
	target := "all"
	if port > 0 {
		target = fmt.Sprintf("%d", port)
	}
	l.record(Entry{
		Action:   ActionRateLimitAdd,
		Operator: operator,
		Target:   target,
		Details: map[string]interface{}{
			"limit":          limit,
			"period_seconds": periodSeconds,
			"port":           port,
		},
	})
}

// LogScoreAdjust records a manual score change.
func (l *Logger) LogScoreAdjust(baseHash string, previous, current int32, reason, operator string) {
	l.record(Entry{
		Action:   ActionScoreAdjust,
		Operator: operator,
		Target:   baseHash,
		Details: map[string]interface{}{
			"previous": previous,
			"current":  current,
			"delta":    current - previous,
			"reason":   reason,
		},
	})
}

// LogListAdd records an allow or block list addition.
func (l *Logger) LogListAdd(kind database.ListKind, cidr, description, operator string) {
	action := ActionWhitelistAdd
	if kind == database.Denylist {
		action = ActionBlacklistAdd
	}
	l.record(Entry{
		Action:   action,
		Operator: operator,
		Target:   cidr,
		Details:  map[string]interface{}{"description": description},
	})
}

// LogSystemStart records process startup.
func (l *Logger) LogSystemStart(version string) {
	l.record(Entry{
		Action:  ActionSystemStart,
		Target:  "rampart",
		Details: map[string]interface{}{"version": version},
	})
}

// LogSystemStop records process shutdown.
func (l *Logger) LogSystemStop() {
	l.record(Entry{Action: ActionSystemStop, Target: "rampart"})
}
