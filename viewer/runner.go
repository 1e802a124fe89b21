package viewer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type RunnerConfig struct {
	// Inputs are globs; ** matches any number of directories.
	Inputs    []string
	SessionID string
	// ProcessedDir and ErrorDir, when set, receive inputs after a successful or failed ingest.
	ProcessedDir string
	ErrorDir     string
	Workers      int
}

// Runner ingests log files from the local filesystem into one session.
type Runner struct {
	cfg RunnerConfig
	svc *Service
}

type RunStats struct {
	Matched  int
	Ingested int
	Skipped  int
	Failed   int
}

func (s *RunStats) add(o Outcome) {
	switch o {
	case Ingested:
		s.Ingested++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Failed++
	}
}

type Outcome int

const (
	Ingested Outcome = iota
	Skipped
	Failed
)

func NewRunner(svc *Service, cfg RunnerConfig) (*Runner, error) {
	if svc == nil {
		return nil, fmt.Errorf("runner needs a service")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, fmt.Errorf("SessionID is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Runner{cfg: cfg, svc: svc}, nil
}

// RunOnce ingests every file matching the inputs. Per-file failures are counted,
// not returned.
func (r *Runner) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if len(r.cfg.Inputs) == 0 {
		return stats, fmt.Errorf("no inputs configured")
	}
	paths, err := expandGlobs(r.cfg.Inputs)
	if err != nil {
		return stats, err
	}
	stats.Matched = len(paths)
	log.WithFields(log.Fields{"session_id": r.cfg.SessionID, "files": len(paths)}).Debug("run_once start")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			o, _ := r.IngestPath(gctx, p)
			mu.Lock()
			stats.add(o)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	log.WithFields(log.Fields{
		"session_id": r.cfg.SessionID,
		"ingested":   stats.Ingested,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
	}).Info("ingest run done")
	return stats, ctx.Err()
}

// IngestPath ingests one file unless the session already holds the same content.
func (r *Runner) IngestPath(ctx context.Context, path string) (Outcome, error) {
	entry := log.WithField("path", path)
	info, err := os.Stat(path)
	if err != nil {
		return Failed, err
	}
	if info.IsDir() || info.Size() == 0 {
		return Skipped, nil
	}

	sha, _, err := hashFile(path)
	if err != nil {
		r.park(path, r.cfg.ErrorDir)
		return Failed, err
	}
	switch _, err := r.svc.store.FindBySHA(ctx, r.cfg.SessionID, sha); {
	case err == nil:
		entry.Debug("skip already ingested")
		r.park(path, r.cfg.ProcessedDir)
		return Skipped, nil
	case !errors.Is(err, ErrNotFound):
		return Failed, err
	}

	res, err := r.svc.IngestPath(ctx, r.cfg.SessionID, path)
	if err != nil {
		entry.WithError(err).Warn("ingest failed")
		if ctx.Err() == nil {
			r.park(path, r.cfg.ErrorDir)
		}
		return Failed, err
	}
	entry.WithFields(log.Fields{"file_id": res.File.ID, "entries": res.File.EntryCount}).Debug("ingested")
	r.park(path, r.cfg.ProcessedDir)
	return Ingested, nil
}

// park moves path into dir when dir is configured.
func (r *Runner) park(path, dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	if _, err := moveToDir(path, dir); err != nil {
		log.WithError(err).WithField("path", path).Warn("move failed")
	}
}

// expandGlobs resolves patterns to a sorted, de-duplicated list of files.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				abs = m
			}
			if !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
