package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrTooLarge     = errors.New("upload too large")
)

const insertBatch = 500

// Store persists parse results in SQLite.
type Store struct {
	db *gorm.DB
}

func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&LogFile{}, &LogEntry{}, &JSONBody{}); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveResult stores file together with every record and body of res, atomically. Only
// complete parses are stored.
func (s *Store) SaveResult(ctx context.Context, file *LogFile, res *tflog.ParseResult) error {
	if res.Partial {
		return fmt.Errorf("save %s: parse was cut short", file.ID)
	}
	stats, err := json.Marshal(res.Statistics)
	if err != nil {
		return err
	}
	file.Statistics = datatypes.JSON(stats)
	file.EntryCount = res.Count

	entries := make([]LogEntry, 0, len(res.Logs))
	var bodies []JSONBody
	for _, r := range res.Logs {
		raw, err := json.Marshal(r.RawData)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.ID, err)
		}
		entries = append(entries, LogEntry{
			FileID:         file.ID,
			RecordID:       r.ID,
			LineNumber:     r.LineNumber,
			Timestamp:      r.Timestamp,
			Level:          string(r.Level),
			Operation:      string(r.Operation),
			Component:      string(r.Component),
			MessageType:    string(r.MessageType),
			Message:        r.Message,
			RawData:        datatypes.JSON(raw),
			TFReqID:        r.TFReqID,
			TFResourceType: r.TFResourceType,
			TFRPC:          r.TFRPC,
		})
		for i, b := range res.JSONBodies[r.ID] {
			data, err := json.Marshal(b.JSONData)
			if err != nil {
				return fmt.Errorf("encode body %s/%s: %w", r.ID, b.FieldName, err)
			}
			bodies = append(bodies, JSONBody{
				FileID:    file.ID,
				RecordID:  r.ID,
				Position:  i,
				FieldName: b.FieldName,
				JSONData:  datatypes.JSON(data),
			})
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(file).Error; err != nil {
			return err
		}
		if len(entries) > 0 {
			if err := tx.CreateInBatches(&entries, insertBatch).Error; err != nil {
				return err
			}
		}
		if len(bodies) > 0 {
			if err := tx.CreateInBatches(&bodies, insertBatch).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) File(ctx context.Context, id string) (*LogFile, error) {
	var f LogFile
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FindBySHA returns the session's file with the given content digest.
func (s *Store) FindBySHA(ctx context.Context, sessionID, sha string) (*LogFile, error) {
	var f LogFile
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND sha256 = ?", sessionID, sha).
		Order("uploaded_at").
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) SessionFiles(ctx context.Context, sessionID string) ([]LogFile, error) {
	var files []LogFile
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("uploaded_at").
		Find(&files).Error
	return files, err
}

// ExpiredFiles lists files uploaded before the cutoff.
func (s *Store) ExpiredFiles(ctx context.Context, before time.Time) ([]LogFile, error) {
	var files []LogFile
	err := s.db.WithContext(ctx).Where("uploaded_at < ?", before).Find(&files).Error
	return files, err
}

// LoadResult rebuilds the ParseResult of a stored file.
func (s *Store) LoadResult(ctx context.Context, file *LogFile) (*tflog.ParseResult, error) {
	db := s.db.WithContext(ctx)

	var entries []LogEntry
	if err := db.Where("file_id = ?", file.ID).Order("line_number").Find(&entries).Error; err != nil {
		return nil, err
	}
	var rows []JSONBody
	if err := db.Where("file_id = ?", file.ID).Order("record_id, position").Find(&rows).Error; err != nil {
		return nil, err
	}

	res := &tflog.ParseResult{
		Logs:       make([]tflog.Record, 0, len(entries)),
		JSONBodies: make(map[string][]tflog.EmbeddedBody),
	}
	for _, e := range entries {
		var raw map[string]any
		if err := decodeColumn(e.RawData, &raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.RecordID, err)
		}
		res.Logs = append(res.Logs, tflog.Record{
			ID:             e.RecordID,
			Timestamp:      e.Timestamp,
			Level:          tflog.Level(e.Level),
			Operation:      tflog.Operation(e.Operation),
			Component:      tflog.Component(e.Component),
			MessageType:    tflog.MessageType(e.MessageType),
			Message:        e.Message,
			RawData:        raw,
			LineNumber:     e.LineNumber,
			TFReqID:        e.TFReqID,
			TFResourceType: e.TFResourceType,
			TFRPC:          e.TFRPC,
		})
	}
	for _, row := range rows {
		body, err := row.body()
		if err != nil {
			return nil, err
		}
		res.JSONBodies[row.RecordID] = append(res.JSONBodies[row.RecordID], body)
	}
	res.Count = len(res.Logs)
	res.Statistics = tflog.ComputeStatistics(res.Logs)
	return res, nil
}

// Bodies returns the embedded bodies of one record, in field order.
func (s *Store) Bodies(ctx context.Context, fileID, recordID string) ([]tflog.EmbeddedBody, error) {
	var rows []JSONBody
	err := s.db.WithContext(ctx).
		Where("file_id = ? AND record_id = ?", fileID, recordID).
		Order("position").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]tflog.EmbeddedBody, 0, len(rows))
	for _, row := range rows {
		body, err := row.body()
		if err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, nil
}

// DeleteFile removes a file and everything parsed from it.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", id).Delete(&JSONBody{}).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", id).Delete(&LogEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&LogFile{}).Error
	})
}

func (f *LogFile) Stats() (tflog.Statistics, error) {
	var st tflog.Statistics
	if len(f.Statistics) == 0 {
		return st, nil
	}
	err := decodeColumn(f.Statistics, &st)
	return st, err
}

func (b JSONBody) body() (tflog.EmbeddedBody, error) {
	var v any
	if err := decodeColumn(b.JSONData, &v); err != nil {
		return tflog.EmbeddedBody{}, fmt.Errorf("decode body %s/%s: %w", b.RecordID, b.FieldName, err)
	}
	return tflog.EmbeddedBody{FieldName: b.FieldName, JSONData: v}, nil
}

// decodeColumn keeps numbers as json.Number, the way the parser produced them.
func decodeColumn(col datatypes.JSON, v any) error {
	dec := json.NewDecoder(bytes.NewReader(col))
	dec.UseNumber()
	return dec.Decode(v)
}
