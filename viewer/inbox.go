package viewer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Inbox watches a directory and ingests files dropped into it once they have been quiet
// for the settle delay.
type Inbox struct {
	dir    string
	settle time.Duration
	runner *Runner
	fsw    *fsnotify.Watcher
}

// NewInbox watches dir. The runner's ProcessedDir and ErrorDir should lie outside dir.
func NewInbox(dir string, settle time.Duration, runner *Runner) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Inbox{dir: dir, settle: settle, runner: runner, fsw: fsw}, nil
}

// Run ingests files already present, then follows the directory until ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	defer in.fsw.Close()

	pending := make(map[string]*time.Timer)
	ready := make(chan string)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	arm := func(path string) {
		if t, ok := pending[path]; ok {
			t.Reset(in.settle)
			return
		}
		pending[path] = time.AfterFunc(in.settle, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			arm(filepath.Join(in.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				arm(ev.Name)
			}
		case err, ok := <-in.fsw.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("inbox watcher error")
		case path := <-ready:
			delete(pending, path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if _, err := in.runner.IngestPath(ctx, path); err != nil {
				log.WithError(err).WithField("path", path).Warn("inbox ingest failed")
			}
		}
	}
}
