package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	zlog "github.com/ramparthq/rampart/logger"

	"github.com/spf13/afero"
)

// Tailer follows a log file the way tail -F does: it starts at the end,
// polls for new lines, and survives rotation and truncation by reopening.
// It only ever stops when its context is cancelled.
type Tailer struct {
	afs          afero.Fs
	path         string
	parser       *Parser
	pollInterval time.Duration
}

func NewTailer(afs afero.Fs, path string, parser *Parser, pollInterval time.Duration) *Tailer {
	return &Tailer{
		afs:          afs,
		path:         path,
		parser:       parser,
		pollInterval: pollInterval,
	}
}

// Failures returns the count of lines that failed to parse.
func (t *Tailer) Failures() int64 {
	return t.parser.Failures()
}

// Run tails the file, sending parsed records to out until the context is
// cancelled. The first open seeks to the end so old entries are not
// replayed; reopens after rotation start at the beginning of the new file.
func (t *Tailer) Run(ctx context.Context, out chan<- Record) error {
	logger := zlog.GetLogger()

	seekToEnd := true
	for {
		file, err := t.waitForFile(ctx)
		if err != nil {
			return err
		}

		var offset int64
		if seekToEnd {
			offset, err = file.Seek(0, io.SeekEnd)
			if err != nil {
				logger.Err(err).Str("path", t.path).Msg("could not seek to end of log file")
				file.Close()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(t.pollInterval):
				}
				continue
			}
			seekToEnd = false
		}

		err = t.follow(ctx, file, offset, out)
		file.Close()
		if err != nil {
			return err
		}
	}
}

// waitForFile blocks until the log file can be opened. A missing file is
// expected at startup and right after rotation.
func (t *Tailer) waitForFile(ctx context.Context) (afero.File, error) {
	logger := zlog.GetLogger()

	warned := false
	for {
		file, err := t.afs.Open(t.path)
		if err == nil {
			return file, nil
		}
		if !warned {
			logger.Warn().Str("path", t.path).Msg("log file is not available, waiting for it to appear")
			warned = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
}

// follow reads lines from an open file until the context is cancelled
// (returns the context error) or the file rotates away (returns nil so the
// caller reopens).
func (t *Tailer) follow(ctx context.Context, file afero.File, offset int64, out chan<- Record) error {
	logger := zlog.GetLogger()

	openInfo, err := file.Stat()
	if err != nil {
		logger.Err(err).Str("path", t.path).Msg("could not stat open log file")
		return nil
	}

	reader := bufio.NewReader(file)
	var partial []byte

	for {
		chunk, err := reader.ReadBytes('\n')
		offset += int64(len(chunk))

		if err == nil {
			line := chunk[:len(chunk)-1]
			if len(partial) > 0 {
				line = append(partial, line...)
				partial = nil
			}
			t.sendLine(ctx, string(line), out)
			continue
		}

		if !errors.Is(err, io.EOF) {
			logger.Err(err).Str("path", t.path).Msg("error reading log file, reopening")
			return nil
		}

		// at EOF a chunk holds a line still being written; keep it until
		// the rest arrives
		if len(chunk) > 0 {
			partial = append(partial, chunk...)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.pollInterval):
		}

		rotated, err := t.checkRotation(openInfo, offset)
		if err != nil {
			// file disappeared out from under us; wait for it to come back
			return nil
		}
		if rotated {
			if len(partial) > 0 {
				logger.Debug().Str("path", t.path).Int("bytes", len(partial)).Msg("discarding partial line from rotated file")
			}
			logger.Info().Str("path", t.path).Msg("log rotation detected, reopening")
			return nil
		}
	}
}

func (t *Tailer) sendLine(ctx context.Context, line string, out chan<- Record) {
	if strings.TrimSpace(line) == "" {
		return
	}

	record, err := t.parser.ParseLine(line)
	if err != nil {
		zlog.GetLogger().Debug().Str("path", t.path).Str("line", line).Msg("skipping unparseable log line")
		return
	}

	select {
	case out <- *record:
	case <-ctx.Done():
	}
}

// checkRotation reports whether the file we hold open is no longer the file
// at the path (rename rotation) or has shrunk below our read offset
// (truncation / copytruncate rotation).
func (t *Tailer) checkRotation(openInfo os.FileInfo, offset int64) (bool, error) {
	pathInfo, err := t.afs.Stat(t.path)
	if err != nil {
		return false, err
	}
	if !sameFile(openInfo, pathInfo) {
		return true, nil
	}
	if pathInfo.Size() < offset {
		return true, nil
	}
	return false, nil
}

// sameFile compares file identity. Real filesystems compare inodes via
// os.SameFile; in-memory filesystems carry no Sys info so the name has to
// stand in for identity there.
func sameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Sys() == nil || b.Sys() == nil {
		return a.Name() == b.Name()
	}
	return os.SameFile(a, b)
}
