package ingest

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// ReplaySummary reports the outcome of one batch replay.
type ReplaySummary struct {
	Lines  int64
	Parsed int64
	Failed int64
}

// Replay reads an existing log from start to finish, sending every parsed
// record to out. A positive limit caps the number of records replayed.
// Malformed lines are counted and skipped, matching the tailer's behavior.
func Replay(ctx context.Context, reader io.Reader, parser *Parser, limit int64, out chan<- Record) (*ReplaySummary, error) {
	summary := &ReplaySummary{}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if limit > 0 && summary.Parsed >= limit {
			break
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		summary.Lines++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		record, err := parser.ParseLine(line)
		if err != nil {
			summary.Failed++
			continue
		}

		select {
		case out <- *record:
			summary.Parsed++
		case <-ctx.Done():
			return summary, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, err
	}

	return summary, nil
}
