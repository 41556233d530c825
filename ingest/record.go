package ingest

import "time"

// Record is one parsed access log line.
type Record struct {
	Timestamp    time.Time
	IPAddress    string
	RemoteUser   string
	Method       string
	Path         string
	Query        string
	StatusCode   int32
	ResponseSize int64
	Referer      string
	UserAgent    string
	Duration     *float64 // seconds, only present for the combined_time format
	Raw          string
}

// HasReferer reports whether the record carries a real referer. nginx logs a
// dash for requests without one.
func (r *Record) HasReferer() bool {
	return r.Referer != "" && r.Referer != "-"
}
