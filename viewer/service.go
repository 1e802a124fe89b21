package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

type ServiceOptions struct {
	MaxPageSize  int
	CacheEntries int
}

// Service implements the session-scoped operations of the viewer on top of the parser,
// the database and the upload directory.
type Service struct {
	store  *Store
	files  *FileStore
	parser *tflog.Parser
	opts   ServiceOptions
	cache  *lru.Cache[string, *tflog.ParseResult]
	now    func() time.Time
}

func NewService(store *Store, files *FileStore, parser *tflog.Parser, opts ServiceOptions) (*Service, error) {
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = 16
	}
	cache, err := lru.New[string, *tflog.ParseResult](opts.CacheEntries)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:  store,
		files:  files,
		parser: parser,
		opts:   opts,
		cache:  cache,
		now:    time.Now,
	}, nil
}

type IngestResult struct {
	File       *LogFile
	Statistics tflog.Statistics
	// Duplicate is set when the session already had a file with the same content.
	Duplicate bool
}

// Ingest stores, parses and persists one log for sessionID.
func (s *Service) Ingest(ctx context.Context, sessionID, name string, r io.Reader) (*IngestResult, error) {
	fileID := uuid.NewString()
	stored, err := s.files.Save(fileID, name, r)
	if err != nil {
		return nil, err
	}
	entry := log.WithFields(log.Fields{"session_id": sessionID, "file_id": fileID, "size": humanize.Bytes(uint64(stored.Size))})

	if prev, err := s.store.FindBySHA(ctx, sessionID, stored.SHA256); err == nil {
		_ = s.files.Remove(stored.Path)
		stats, err := prev.Stats()
		if err != nil {
			return nil, err
		}
		entry.WithField("existing", prev.ID).Debug("duplicate upload")
		return &IngestResult{File: prev, Statistics: stats, Duplicate: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		_ = s.files.Remove(stored.Path)
		return nil, err
	}

	file := &LogFile{
		ID:         fileID,
		SessionID:  sessionID,
		Filename:   name,
		StoredPath: stored.Path,
		SHA256:     stored.SHA256,
		SizeBytes:  stored.Size,
		UploadedAt: s.now().UTC(),
	}
	res, err := s.parseAndSave(ctx, file)
	if err != nil {
		_ = s.files.Remove(stored.Path)
		return nil, err
	}
	entry.WithField("entries", res.Count).Info("log ingested")
	return &IngestResult{File: file, Statistics: res.Statistics}, nil
}

// IngestPath ingests a file from the local filesystem.
func (s *Service) IngestPath(ctx context.Context, sessionID, path string) (*IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.Ingest(ctx, sessionID, filepath.Base(path), f)
}

func (s *Service) parseAndSave(ctx context.Context, file *LogFile) (*tflog.ParseResult, error) {
	res, err := s.parser.ParseFile(ctx, file.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file.Filename, err)
	}
	if err := s.store.SaveResult(ctx, file, res); err != nil {
		return nil, fmt.Errorf("save %s: %w", file.Filename, err)
	}
	s.cache.Add(file.ID, res)
	return res, nil
}

// owned returns the file if sessionID may read it. A file unknown to the database whose
// upload is still on disk is parsed again and adopted by sessionID.
func (s *Service) owned(ctx context.Context, sessionID, fileID string) (*LogFile, error) {
	file, err := s.store.File(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		file, err = s.recoverFromDisk(ctx, sessionID, fileID)
	}
	if err != nil {
		return nil, err
	}
	if file.SessionID != sessionID {
		return nil, ErrAccessDenied
	}
	return file, nil
}

func (s *Service) recoverFromDisk(ctx context.Context, sessionID, fileID string) (*LogFile, error) {
	path, err := s.files.Find(fileID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.File(ctx, fileID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	sha, size, err := hashFile(path)
	if err != nil {
		return nil, err
	}
	uploaded := s.now().UTC()
	if info, err := os.Stat(path); err == nil {
		uploaded = info.ModTime().UTC()
	}
	file := &LogFile{
		ID:         fileID,
		SessionID:  sessionID,
		Filename:   originalName(path),
		StoredPath: path,
		SHA256:     sha,
		SizeBytes:  size,
		UploadedAt: uploaded,
	}
	if _, err := s.parseAndSave(ctx, file); err != nil {
		// Another request may have adopted the upload first; its row decides ownership.
		if existing, ferr := s.store.File(ctx, fileID); ferr == nil {
			return existing, nil
		}
		return nil, err
	}
	log.WithFields(log.Fields{"session_id": sessionID, "file_id": fileID, "path": path}).Info("recovered upload from disk")
	return file, nil
}

func (s *Service) result(ctx context.Context, file *LogFile) (*tflog.ParseResult, error) {
	if res, ok := s.cache.Get(file.ID); ok {
		return res, nil
	}
	res, err := s.store.LoadResult(ctx, file)
	if err != nil {
		return nil, err
	}
	s.cache.Add(file.ID, res)
	return res, nil
}

// LogsPage is one page of filtered records of a file.
type LogsPage struct {
	tflog.Page
	CurrentFile string `json:"current_file"`
}

func (s *Service) Logs(ctx context.Context, sessionID, fileID string, f tflog.Filter) (*LogsPage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	file, err := s.owned(ctx, sessionID, fileID)
	if err != nil {
		return nil, err
	}
	res, err := s.result(ctx, file)
	if err != nil {
		return nil, err
	}
	page, err := res.Query(f, tflog.QueryOptions{
		BodyFields:  s.parser.BodyFields(),
		MaxPageSize: s.opts.MaxPageSize,
	})
	if err != nil {
		return nil, err
	}
	return &LogsPage{Page: *page, CurrentFile: file.Filename}, nil
}

// Bodies returns the embedded bodies of one record; an unknown record has none.
func (s *Service) Bodies(ctx context.Context, sessionID, fileID, recordID string) ([]tflog.EmbeddedBody, error) {
	file, err := s.owned(ctx, sessionID, fileID)
	if err != nil {
		return nil, err
	}
	if res, ok := s.cache.Get(file.ID); ok {
		out := res.JSONBodies[recordID]
		if out == nil {
			out = []tflog.EmbeddedBody{}
		}
		return out, nil
	}
	return s.store.Bodies(ctx, file.ID, recordID)
}

func (s *Service) Statistics(ctx context.Context, sessionID, fileID string) (tflog.Statistics, error) {
	file, err := s.owned(ctx, sessionID, fileID)
	if err != nil {
		return tflog.Statistics{}, err
	}
	return file.Stats()
}

// Files lists the session's files, oldest first.
func (s *Service) Files(ctx context.Context, sessionID string) ([]LogFile, error) {
	return s.store.SessionFiles(ctx, sessionID)
}

// Clear deletes one file of the session, or every file of it when fileID is empty.
// Deleted uploads are removed from disk so they cannot be recovered.
func (s *Service) Clear(ctx context.Context, sessionID, fileID string) (int, error) {
	if fileID != "" {
		file, err := s.store.File(ctx, fileID)
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if file.SessionID != sessionID {
			return 0, ErrAccessDenied
		}
		return 1, s.remove(ctx, file)
	}

	files, err := s.store.SessionFiles(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	for i := range files {
		if err := s.remove(ctx, &files[i]); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

func (s *Service) remove(ctx context.Context, file *LogFile) error {
	if err := s.store.DeleteFile(ctx, file.ID); err != nil {
		return err
	}
	s.cache.Remove(file.ID)
	return s.files.Remove(file.StoredPath)
}

// Cleanup deletes every file uploaded more than maxAge ago and returns how many went.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	files, err := s.store.ExpiredFiles(ctx, s.now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	for i := range files {
		if err := s.remove(ctx, &files[i]); err != nil {
			return i, err
		}
		log.WithFields(log.Fields{"file_id": files[i].ID, "session_id": files[i].SessionID}).Debug("expired file removed")
	}
	return len(files), nil
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if maxAge < 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Cleanup(ctx, maxAge)
			if err != nil {
				log.WithError(err).Warn("cleanup failed")
				continue
			}
			if n > 0 {
				log.WithField("files", n).Info("cleanup removed expired files")
			}
		}
	}
}
