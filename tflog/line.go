package tflog

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Line is one non-blank input line, either a StructuredLine or a RawLine.
type Line interface {
	Number() int
}

// StructuredLine is a line that decoded to a JSON object.
type StructuredLine struct {
	LineNumber int
	Payload    map[string]any
}

// RawLine is any other line: plain text, truncated JSON, or JSON that is not an object.
type RawLine struct {
	LineNumber int
	Text       string
}

func (l StructuredLine) Number() int { return l.LineNumber }
func (l RawLine) Number() int        { return l.LineNumber }

// SplitLine decides which path a trimmed, non-empty line takes.
func SplitLine(number int, text string) Line {
	if strings.HasPrefix(text, "{") {
		if v, err := decodeJSON(text); err == nil {
			if obj, ok := v.(map[string]any); ok {
				return StructuredLine{LineNumber: number, Payload: obj}
			}
		}
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return RawLine{LineNumber: number, Text: text}
}

// ProcessLine turns one line into a Record plus any bodies embedded in it.
func ProcessLine(line Line, fields BodyFields) (Record, []EmbeddedBody) {
	switch l := line.(type) {
	case StructuredLine:
		return processStructured(l, fields)
	case RawLine:
		return processRaw(l), nil
	default:
		return Record{}, nil
	}
}

func processStructured(l StructuredLine, fields BodyFields) (Record, []EmbeddedBody) {
	data := l.Payload
	msg := ExtractMessage(data)
	ids := ExtractCorrelationIDs(data)
	rec := Record{
		ID:             "log_" + strconv.Itoa(l.LineNumber),
		Timestamp:      ExtractTimestamp(data),
		Level:          ExtractLevel(msg, data),
		Operation:      DetectOperation(msg, data),
		Component:      DetectComponent(msg),
		MessageType:    DetectMessageType(msg),
		Message:        msg,
		RawData:        data,
		LineNumber:     l.LineNumber,
		TFReqID:        ids.ReqID,
		TFResourceType: ids.ResourceType,
		TFRPC:          ids.RPC,
	}
	return rec, ExtractBodies(data, fields)
}

func processRaw(l RawLine) Record {
	return Record{
		ID:          "raw_" + strconv.Itoa(l.LineNumber),
		Timestamp:   ExtractTimestampFromRaw(l.Text),
		Level:       ExtractLevelFromRaw(l.Text),
		Operation:   DetectOperationFromRaw(l.Text),
		Component:   DetectComponentFromRaw(l.Text),
		MessageType: TypeRaw,
		Message:     l.Text,
		RawData:     map[string]any{"raw_line": l.Text},
		LineNumber:  l.LineNumber,
		TFReqID:     ExtractReqIDFromRaw(l.Text),
	}
}
