package tflog

type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
	LevelTrace Level = "trace"
)

type Operation string

const (
	OpPlan     Operation = "plan"
	OpApply    Operation = "apply"
	OpValidate Operation = "validate"
	OpInit     Operation = "init"
	OpDestroy  Operation = "destroy"
	OpRefresh  Operation = "refresh"
	OpGeneral  Operation = "general"
)

type Component string

const (
	ComponentCore        Component = "core"
	ComponentBackend     Component = "backend"
	ComponentProvider    Component = "provider"
	ComponentProvisioner Component = "provisioner"
	ComponentHTTP        Component = "http"
	ComponentGRPC        Component = "grpc"
	ComponentUnknown     Component = "unknown"
)

type MessageType string

const (
	TypeError   MessageType = "error"
	TypeWarning MessageType = "warning"
	TypeDebug   MessageType = "debug"
	TypeTrace   MessageType = "trace"
	TypeInfo    MessageType = "info"
	// TypeRaw is only ever assigned to lines that are not JSON objects.
	TypeRaw MessageType = "RAW"
)

// NoTimestamp is the sentinel for lines without a recoverable time of day.
const NoTimestamp = "--:--:--"

// Record is one normalized log line.
type Record struct {
	ID             string         `json:"id"`
	Timestamp      string         `json:"timestamp"`
	Level          Level          `json:"level"`
	Operation      Operation      `json:"operation"`
	Component      Component      `json:"component"`
	MessageType    MessageType    `json:"message_type"`
	Message        string         `json:"message"`
	RawData        map[string]any `json:"raw_data"`
	LineNumber     int            `json:"line_number"`
	TFReqID        string         `json:"tf_req_id"`
	TFResourceType string         `json:"tf_resource_type"`
	TFRPC          string         `json:"tf_rpc"`
}

// EmbeddedBody is a JSON value found in one of a record's body fields.
// JSONData holds the decoded value, or {"raw_string": ...} when it could not be decoded.
type EmbeddedBody struct {
	FieldName string `json:"field_name"`
	JSONData  any    `json:"json_data"`
}

type Statistics struct {
	TotalEntries int               `json:"total_entries"`
	ByLevel      map[Level]int     `json:"by_level"`
	ByOperation  map[Operation]int `json:"by_operation"`
	ByComponent  map[Component]int `json:"by_component"`
	ErrorsCount  int               `json:"errors_count"`
}

// ParseResult is everything produced by one parse. Logs are ordered by LineNumber.
type ParseResult struct {
	Count      int                       `json:"count"`
	Logs       []Record                  `json:"logs"`
	JSONBodies map[string][]EmbeddedBody `json:"json_bodies"`
	Statistics Statistics                `json:"statistics"`
	// Partial is set when the parse was cancelled before the end of input.
	Partial bool `json:"partial,omitempty"`
}

// ComputeStatistics tallies records by level, operation and component.
func ComputeStatistics(records []Record) Statistics {
	stats := Statistics{
		TotalEntries: len(records),
		ByLevel:      make(map[Level]int),
		ByOperation:  make(map[Operation]int),
		ByComponent:  make(map[Component]int),
	}
	for _, r := range records {
		stats.ByLevel[r.Level]++
		stats.ByOperation[r.Operation]++
		stats.ByComponent[r.Component]++
		if r.Level == LevelError {
			stats.ErrorsCount++
		}
	}
	return stats
}
