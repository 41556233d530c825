package ingest

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ramparthq/rampart/util"
)

var ErrUnknownFormat = errors.New("unknown log format")
var ErrMalformedLine = errors.New("log line does not match the configured format")

const (
	FormatCombined     = "combined"
	FormatCombinedTime = "combined_time"
)

// bracket timestamps as nginx writes them; the zone is optional in the wild
const bracketTimeLayout = "02/Jan/2006:15:04:05 -0700"
const bracketTimeLayoutNoZone = "02/Jan/2006:15:04:05"

var combinedPattern = regexp.MustCompile(
	`^(?P<addr>\S+) - (?P<user>.*?) \[(?P<time>.*?)\] "(?P<request>.*?)" (?P<status>\d+) (?P<size>\d+|-) "(?P<referer>.*?)" "(?P<agent>.*?)"`,
)

var combinedTimePattern = regexp.MustCompile(
	`^(?P<addr>\S+) - (?P<user>.*?) \[(?P<time>.*?)\] "(?P<request>.*?)" (?P<status>\d+) (?P<size>\d+|-) "(?P<referer>.*?)" "(?P<agent>.*?)" (?P<duration>[\d.]+)`,
)

// Parser turns raw access log lines into Records. A parser is safe for
// concurrent use; the failure counter is shared across callers.
type Parser struct {
	format      string
	pattern     *regexp.Regexp
	hasDuration bool
	groups      map[string]int
	failures    atomic.Int64
}

// NewParser builds a parser for one of the supported log formats.
func NewParser(format string) (*Parser, error) {
	parser := &Parser{format: format}
	switch format {
	case FormatCombined:
		parser.pattern = combinedPattern
	case FormatCombinedTime:
		parser.pattern = combinedTimePattern
		parser.hasDuration = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	parser.groups = make(map[string]int)
	for i, name := range parser.pattern.SubexpNames() {
		if name != "" {
			parser.groups[name] = i
		}
	}
	return parser, nil
}

// Format returns the log format this parser was built for.
func (p *Parser) Format() string {
	return p.format
}

// Failures returns the number of lines that did not match the format.
func (p *Parser) Failures() int64 {
	return p.failures.Load()
}

// ParseLine parses a single access log line. Lines that do not match the
// format return ErrMalformedLine and are counted as failures.
func (p *Parser) ParseLine(line string) (*Record, error) {
	line = strings.TrimSpace(line)

	match := p.pattern.FindStringSubmatch(line)
	if match == nil {
		p.failures.Add(1)
		return nil, ErrMalformedLine
	}

	status, err := strconv.ParseInt(match[p.groups["status"]], 10, 32)
	if err != nil {
		p.failures.Add(1)
		return nil, fmt.Errorf("%w: bad status code", ErrMalformedLine)
	}

	record := &Record{
		Timestamp:  parseBracketTime(match[p.groups["time"]]),
		IPAddress:  match[p.groups["addr"]],
		RemoteUser: match[p.groups["user"]],
		StatusCode: int32(status),
		Referer:    match[p.groups["referer"]],
		UserAgent:  match[p.groups["agent"]],
		Raw:        line,
	}
	record.Method, record.Path, record.Query = splitRequest(match[p.groups["request"]])

	// nginx logs a dash when no body was sent
	if size := match[p.groups["size"]]; size != "-" {
		record.ResponseSize, err = strconv.ParseInt(size, 10, 64)
		if err != nil {
			p.failures.Add(1)
			return nil, fmt.Errorf("%w: bad response size", ErrMalformedLine)
		}
	}

	if p.hasDuration {
		if seconds, err := strconv.ParseFloat(match[p.groups["duration"]], 64); err == nil {
			record.Duration = &seconds
		}
	}

	return record, nil
}

// splitRequest breaks a request line like "GET /path?q=1 HTTP/1.1" into
// method, path, and query string. The query is everything after the first
// question mark. Request lines without a target keep the whole line as the
// path under an UNKNOWN method.
func splitRequest(request string) (method, path, query string) {
	method = "UNKNOWN"
	target := request
	if parts := strings.SplitN(request, " ", 3); len(parts) >= 2 {
		method = parts[0]
		target = parts[1]
	}

	if q := strings.IndexByte(target, '?'); q >= 0 {
		return method, target[:q], target[q+1:]
	}
	return method, target, ""
}

// parseBracketTime parses the bracketed nginx timestamp, tolerating a
// missing zone. Timestamps that do not parse, or that parse to something
// outside the sane unix range, fall back to the current time so a record
// is never dropped over its clock.
func parseBracketTime(value string) time.Time {
	for _, layout := range []string{bracketTimeLayout, bracketTimeLayoutNoZone} {
		ts, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if _, replaced := util.ValidateTimestamp(ts); !replaced {
			return ts
		}
	}
	return time.Now()
}
