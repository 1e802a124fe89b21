package viewer

import (
	"time"

	"gorm.io/datatypes"
)

// LogFile is one uploaded or ingested Terraform log, owned by a session.
type LogFile struct {
	ID         string `gorm:"primaryKey;size:36"`
	SessionID  string `gorm:"index;index:idx_session_sha,priority:1;size:64"`
	Filename   string `gorm:"size:512"`
	StoredPath string `gorm:"size:1024"`
	SHA256     string `gorm:"index:idx_session_sha,priority:2;size:64"`
	SizeBytes  int64
	EntryCount int
	Statistics datatypes.JSON
	UploadedAt time.Time `gorm:"index"`
}

// LogEntry is one stored tflog.Record.
type LogEntry struct {
	ID             uint   `gorm:"primaryKey"`
	FileID         string `gorm:"index:idx_entry_file_line,priority:1;size:36"`
	RecordID       string `gorm:"size:32"`
	LineNumber     int    `gorm:"index:idx_entry_file_line,priority:2"`
	Timestamp      string `gorm:"size:16"`
	Level          string `gorm:"index;size:8"`
	Operation      string `gorm:"index;size:16"`
	Component      string `gorm:"index;size:16"`
	MessageType    string `gorm:"size:16"`
	Message        string `gorm:"type:text"`
	RawData        datatypes.JSON
	TFReqID        string `gorm:"column:tf_req_id;index;size:128"`
	TFResourceType string `gorm:"column:tf_resource_type;size:256"`
	TFRPC          string `gorm:"column:tf_rpc;size:128"`
}

// JSONBody is one tflog.EmbeddedBody. Position keeps the field order within a record.
type JSONBody struct {
	ID        uint   `gorm:"primaryKey"`
	FileID    string `gorm:"index:idx_body_record,priority:1;size:36"`
	RecordID  string `gorm:"index:idx_body_record,priority:2;size:32"`
	Position  int
	FieldName string `gorm:"size:128"`
	JSONData  datatypes.JSON
}
