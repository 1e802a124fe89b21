package tflog

import "strings"

// BodyKind tells whether a body field carries a request, a response, or either.
type BodyKind string

const (
	BodyRequest  BodyKind = "request"
	BodyResponse BodyKind = "response"
	BodyGeneric  BodyKind = "generic"
)

type BodyField struct {
	Name string
	Kind BodyKind
}

// BodyFields is the ordered list of field names scanned for embedded JSON bodies.
type BodyFields []BodyField

// DefaultBodyFields covers Terraform's HTTP logging fields plus the common aliases.
var DefaultBodyFields = BodyFields{
	{Name: "tf_http_req_body", Kind: BodyRequest},
	{Name: "tf_http_res_body", Kind: BodyResponse},
	{Name: "request_body", Kind: BodyRequest},
	{Name: "response_body", Kind: BodyResponse},
	{Name: "req_body", Kind: BodyRequest},
	{Name: "res_body", Kind: BodyResponse},
	{Name: "body", Kind: BodyGeneric},
	{Name: "data", Kind: BodyGeneric},
	{Name: "json", Kind: BodyGeneric},
}

// Names returns the field names of the given kind, in order.
func (f BodyFields) Names(kind BodyKind) []string {
	var out []string
	for _, b := range f {
		if b.Kind == kind {
			out = append(out, b.Name)
		}
	}
	return out
}

// hasAny reports whether data holds a set value in any field of the given kind.
func (f BodyFields) hasAny(data map[string]any, kind BodyKind) bool {
	for _, b := range f {
		if b.Kind != kind {
			continue
		}
		if v, ok := data[b.Name]; ok && present(v) {
			return true
		}
	}
	return false
}

// ExtractBodies returns one EmbeddedBody per set body field of data.
func ExtractBodies(data map[string]any, fields BodyFields) []EmbeddedBody {
	var out []EmbeddedBody
	for _, f := range fields {
		v, ok := data[f.Name]
		if !ok || !present(v) {
			continue
		}
		out = append(out, EmbeddedBody{FieldName: f.Name, JSONData: decodeBody(v)})
	}
	return out
}

// decodeBody parses string bodies as JSON, retrying once with backslash escapes resolved.
// Undecodable strings are wrapped as {"raw_string": s}; non-string values are already JSON.
func decodeBody(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if strings.TrimSpace(s) != "" {
		if parsed, err := decodeJSON(s); err == nil {
			return parsed
		}
		if parsed, err := decodeJSON(unescapeBackslashes(s)); err == nil {
			return parsed
		}
	}
	return map[string]any{"raw_string": s}
}
