package database

import (
	"time"

	"github.com/ramparthq/rampart/config"

	jsoniter "github.com/json-iterator/go"
)

// AccessLog is one parsed request line, persisted with its fingerprint hashes.
type AccessLog struct {
	ID           int64      `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	Method       string     `json:"method"`
	Path         string     `json:"path"`
	QueryString  string     `json:"query_string"`
	StatusCode   int32      `json:"status_code"`
	ResponseSize int64      `json:"response_size"`
	Referer      string     `json:"referer"`
	Duration     *float64   `json:"duration,omitempty"` // seconds, combined_time format only
	BaseHash     string     `json:"base_hash"`
	BehaviorHash string     `json:"behavior_hash"`
	ChainID      *string    `json:"chain_id,omitempty"`
}

// Fingerprint is the durable identity row for one (address, user agent) pair.
type Fingerprint struct {
	ID              int64             `json:"id"`
	BaseHash        string            `json:"base_hash"`
	IPAddress       string            `json:"ip_address"`
	UserAgent       string            `json:"user_agent"`
	FirstSeen       time.Time         `json:"first_seen"`
	LastSeen        time.Time         `json:"last_seen"`
	VisitCount      int64             `json:"visit_count"`
	BehaviorCount   int64             `json:"behavior_count"`
	ThreatScore     int32             `json:"threat_score"`
	LastScoreUpdate time.Time         `json:"last_score_update"`
	ChainID         *string           `json:"chain_id,omitempty"`
	IsChainRoot     bool              `json:"is_chain_root"`
	Metadata        map[string]string `json:"metadata,omitempty"` // rdns / geo enrichment cache
}

// ChainEvent is one append-only entry in an identity chain's evolution history.
type ChainEvent struct {
	BaseHash  string    `json:"base_hash"`
	Timestamp time.Time `json:"timestamp"`
	Cause     string    `json:"cause"`
	Diversity float64   `json:"diversity"`
}

// IdentityChain groups fingerprints that belong to the same evolving client.
// RootHash is content-addressed: the hash of the sorted member hash set.
type IdentityChain struct {
	ID          string       `json:"id"`
	RootHash    string       `json:"root_hash"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	MemberCount int32        `json:"member_count"`
	TotalVisits int64        `json:"total_visits"`
	ThreatScore int32        `json:"threat_score"`
	History     []ChainEvent `json:"evolution_history"`
	Description string       `json:"description"`
}

// ThreatEvent is one detector or rule engine finding.
type ThreatEvent struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	IPAddress   string                 `json:"ip_address"`
	BaseHash    string                 `json:"base_hash"`
	ChainID     *string                `json:"chain_id,omitempty"`
	ThreatType  string                 `json:"threat_type"`
	Severity    config.Severity        `json:"severity"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Handled     bool                   `json:"handled"`
	ActionTaken string                 `json:"action_taken"`
}

// BanRecord tracks one address's ban lifecycle. At most one active row may
// exist per address; historical rows are kept with is_active = false.
type BanRecord struct {
	ID            int64      `json:"id"`
	IPAddress     string     `json:"ip_address"`
	BannedAt      time.Time  `json:"banned_at"`
	BanUntil      *time.Time `json:"ban_until,omitempty"` // nil = permanent
	Reason        string     `json:"reason"`
	ThreatEventID *string    `json:"threat_event_id,omitempty"`
	IsPermanent   bool       `json:"is_permanent"`
	IsActive      bool       `json:"is_active"`
	UnbannedAt    *time.Time `json:"unbanned_at,omitempty"`
	BanCount      int32      `json:"ban_count"`
}

// ScoreHistory is the append-only audit trail of score changes.
type ScoreHistory struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	FingerprintID int64     `json:"fingerprint_id"`
	BaseHash      string    `json:"base_hash"`
	Delta         int32     `json:"delta"`
	Total         int32     `json:"total"`
	Reason        string    `json:"reason"`
	ThreatEventID *string   `json:"threat_event_id,omitempty"`
	Operator      string    `json:"operator"`
}

// ListEntry is one allow or block list row. CIDR holds either a bare address
// or a subnet in CIDR notation.
type ListEntry struct {
	ID          int64     `json:"id"`
	CIDR        string    `json:"cidr"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// PathCount is one entry of an hourly top-paths ranking.
type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// Statistic is one hourly aggregation row.
type Statistic struct {
	ID              int64            `json:"id"`
	PeriodStart     time.Time        `json:"period_start"`
	TotalRequests   int64            `json:"total_requests"`
	UniqueAddresses int64            `json:"unique_addresses"`
	ThreatsDetected int64            `json:"threats_detected"`
	BansApplied     int64            `json:"bans_applied"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	TopPaths        []PathCount      `json:"top_paths"`
	DurationMean    *float64         `json:"duration_mean,omitempty"`
	DurationMedian  *float64         `json:"duration_median,omitempty"`
	DurationP95     *float64         `json:"duration_p95,omitempty"`
}

// RuleCondition is one AND-ed predicate of a custom rule.
type RuleCondition struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// CustomRule is an admin-defined detection rule evaluated by the rule engine.
type CustomRule struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Conditions  []RuleCondition `json:"conditions"`
	Score       float64         `json:"score"`
	Severity    config.Severity `json:"severity"`
	Priority    int32           `json:"priority"`
	Enabled     bool            `json:"enabled"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PortRule is one firewall port rule mirrored in the store so that rules
// survive restarts and can be reconciled.
type PortRule struct {
	ID        int64     `json:"id"`
	Port      int32     `json:"port"`
	Protocol  string    `json:"protocol"`
	Action    string    `json:"action"` // open | close | block
	Source    string    `json:"source"` // optional source restriction
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// marshalJSONColumn serializes a value destined for a jsonb column.
// A nil map or slice serializes as an empty object or array by the caller
// passing a non-nil zero value where that matters.
func marshalJSONColumn(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// unmarshalJSONColumn deserializes a jsonb column into the target. Empty
// input leaves the target at its zero value.
func unmarshalJSONColumn(data []byte, target interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
