package detect

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/groblegark/coop/internal/logger"
)

// LineClassifier turns one session-log line into an event, or returns false
// when the line carries no signal. Agent drivers supply the classifier; the
// watcher only handles the tailing mechanics.
type LineClassifier func(line string) (Event, bool)

// LogWatcher tails an agent's session log file and posts classified events.
// The file may not exist yet when the watcher starts; creation is picked up
// from the directory watch.
type LogWatcher struct {
	Path     string
	Classify LineClassifier
	Events   chan<- Event

	// PollInterval backstops fsnotify on filesystems with unreliable write
	// notifications.
	PollInterval time.Duration
}

// Run tails the log until ctx is cancelled. Every complete line is sent as a
// TierLog CauseLogLine event (for transcripts) and, when the classifier
// fires, as its classified event.
func (w *LogWatcher) Run(ctx context.Context) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.Path)
	if err := watcher.Add(dir); err != nil {
		logger.Warn("log watch: cannot watch dir, polling only", "dir", dir, "err", err)
	}

	var f *os.File
	var rd *bufio.Reader
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	open := func() {
		if f != nil {
			return
		}
		fh, err := os.Open(w.Path)
		if err != nil {
			return
		}
		f = fh
		rd = bufio.NewReader(f)
		logger.Debug("log watch: opened", "path", w.Path)
	}

	var partial string
	drain := func() {
		if f == nil {
			open()
			if f == nil {
				return
			}
		}
		for {
			chunk, err := rd.ReadString('\n')
			if err == nil {
				w.emit(ctx, partial+chunk)
				partial = ""
				continue
			}
			if err == io.EOF {
				// Hold the incomplete tail until the writer finishes the line.
				partial += chunk
			}
			return
		}
	}

	open()
	drain()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.Path {
				continue
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				drain()
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				if f != nil {
					f.Close()
					f, rd = nil, nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("log watch error", "err", err)
		case <-ticker.C:
			drain()
		}
	}
}

func (w *LogWatcher) emit(ctx context.Context, line string) {
	send := func(ev Event) {
		select {
		case w.Events <- ev:
		case <-ctx.Done():
		}
	}
	send(Event{Tier: TierLog, Cause: CauseLogLine, Line: line})
	if w.Classify == nil {
		return
	}
	if ev, ok := w.Classify(line); ok {
		ev.Tier = TierLog
		send(ev)
	}
}
