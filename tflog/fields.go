package tflog

import "regexp"

var messageFields = []string{"@message", "message", "msg", "log", "text"}

var (
	reqIDFields        = []string{"@request_id", "tf_req_id", "req_id"}
	resourceTypeFields = []string{"@resource_type", "tf_resource_type", "resource_type"}
	rpcFields          = []string{"@rpc", "tf_rpc", "rpc"}
)

var rawReqIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)req[_\-]id[=:]?\s*([\w\-]+)`),
	regexp.MustCompile(`(?i)request[_\-]id[=:]?\s*([\w\-]+)`),
	regexp.MustCompile(`(?i)\[req[_\-]id=([\w\-]+)\]`),
}

// CorrelationIDs are the identifiers Terraform attaches to provider and HTTP log lines.
type CorrelationIDs struct {
	ReqID        string
	ResourceType string
	RPC          string
}

// ExtractMessage returns the human readable text of a structured line. When no message
// field is set, the whole payload is returned as compact JSON so the result is never empty.
func ExtractMessage(data map[string]any) string {
	if msg, ok := firstPresent(data, messageFields...); ok {
		return msg
	}
	return compactJSON(data)
}

func ExtractCorrelationIDs(data map[string]any) CorrelationIDs {
	var ids CorrelationIDs
	ids.ReqID, _ = firstPresent(data, reqIDFields...)
	ids.ResourceType, _ = firstPresent(data, resourceTypeFields...)
	ids.RPC, _ = firstPresent(data, rpcFields...)
	return ids
}

// ExtractReqIDFromRaw finds a request id in free text, e.g. "req_id=abc" or "[req-id=abc]".
func ExtractReqIDFromRaw(line string) string {
	for _, re := range rawReqIDPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}
