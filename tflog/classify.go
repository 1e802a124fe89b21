package tflog

import "strings"

// markers pairs a category with the substrings that select it. Tables are slices so
// that precedence is the declaration order.
type markers[T ~string] struct {
	category T
	patterns []string
}

// firstMatch returns the category of the first table entry with a pattern contained
// in text, or def. text must already be lower-cased.
func firstMatch[T ~string](text string, table []markers[T], def T) T {
	for _, m := range table {
		for _, p := range m.patterns {
			if strings.Contains(text, p) {
				return m.category
			}
		}
	}
	return def
}

var operationMarkers = []markers[Operation]{
	{OpPlan, []string{
		"plan", "terraform plan", "plan operation", "planning", "refresh plan", "plan:",
		"-plan-", "execution plan", "proposed changes", "speculative plan",
		"no actions need to be taken", "planned change", "refresh:",
	}},
	{OpApply, []string{
		"apply", "terraform apply", "apply operation", "applying", "apply:", "-apply-",
		"provisioning", "deploying", "creating", "modifying", "destroying",
		"executing actions", "applying configuration",
	}},
	{OpValidate, []string{
		"validate", "validation", "validating", "validate operation", "syntax valid",
		"configuration is valid", "checking configuration",
	}},
	{OpInit, []string{
		"init", "terraform init", "initializing", "initialization", "init:", "-init-",
		"initializing backend", "installing plugins", "downloading modules",
		"provider installation", "module installation", "terraform.lock.hcl",
		"required_providers",
	}},
	{OpDestroy, []string{
		"destroy", "terraform destroy", "destroying", "destroy:", "deprovisioning",
		"cleaning up", "removing resources", "destroy mode", "plan to destroy",
		"destroy plan", "apply -destroy",
	}},
	{OpRefresh, []string{
		"refresh", "refreshing", "refresh:", "refresh-only", "updating state",
		"synchronizing state", "reconcile state",
	}},
}

var rawOperationMarkers = []markers[Operation]{
	{OpPlan, []string{"plan", "planning"}},
	{OpApply, []string{"apply", "applying"}},
	{OpValidate, []string{"validate", "validation"}},
	{OpInit, []string{"init", "initializing"}},
	{OpDestroy, []string{"destroy", "destroying"}},
}

// moduleHints and rpcHints are consulted when the message names no operation.
var (
	moduleHints = []markers[Operation]{
		{OpPlan, []string{"plan"}},
		{OpApply, []string{"apply"}},
		{OpInit, []string{"init"}},
	}
	rpcHints = []markers[Operation]{
		{OpPlan, []string{"plan"}},
		{OpApply, []string{"apply"}},
	}
)

var componentMarkers = []markers[Component]{
	{ComponentCore, []string{"terraform", "cli", "command", "args", "version", "root", "working directory", "config"}},
	{ComponentBackend, []string{"backend", "statemgr", "state", "local:", "remote:", "loading state", "saving state"}},
	{ComponentProvider, []string{"provider", "registry", "plugin", "tf-provider", "initializing provider"}},
	{ComponentProvisioner, []string{"provisioner", "local-exec", "remote-exec"}},
	{ComponentHTTP, []string{"http", "https", "request", "response", "get", "post", "status code", "header"}},
	{ComponentGRPC, []string{"grpc", "rpc", "protocol", "client", "server"}},
}

var rawComponentMarkers = []markers[Component]{
	{ComponentCore, []string{"terraform", "cli", "command"}},
	{ComponentBackend, []string{"backend", "state"}},
	{ComponentProvider, []string{"provider", "registry"}},
	{ComponentHTTP, []string{"http", "request"}},
	{ComponentGRPC, []string{"grpc", "rpc"}},
}

var messageTypeMarkers = []markers[MessageType]{
	{TypeError, []string{"error", "failed"}},
	{TypeWarning, []string{"warning", "warn"}},
	{TypeDebug, []string{"debug"}},
	{TypeTrace, []string{"trace"}},
}

var levelFields = []string{"@level", "level", "log_level", "severity"}

var levelMarkers = []markers[Level]{
	{LevelError, []string{"error", "failed", "failure", "exception", "panic", "fatal"}},
	{LevelWarn, []string{"warn", "warning", "deprecated", "deprecation"}},
	{LevelInfo, []string{"info", "starting", "completed", "success", "created", "updated"}},
	{LevelDebug, []string{"debug", "checking", "scanning", "reading", "writing"}},
	{LevelTrace, []string{"trace", "waiting", "calling", "entering", "exiting"}},
}

var rawLevelMarkers = []markers[Level]{
	{LevelError, []string{"error", "failed", "failure", "exception"}},
	{LevelWarn, []string{"warn", "warning"}},
	{LevelInfo, []string{"info", "starting", "completed"}},
	{LevelDebug, []string{"debug"}},
	{LevelTrace, []string{"trace"}},
}

// DetectOperation attributes a structured line to a Terraform lifecycle phase.
// The message wins; otherwise the @module and tf_rpc fields are used as hints.
func DetectOperation(message string, data map[string]any) Operation {
	if op := firstMatch(strings.ToLower(message), operationMarkers, OpGeneral); op != OpGeneral {
		return op
	}
	module := strings.ToLower(stringify(data["@module"]))
	if op := firstMatch(module, moduleHints, OpGeneral); op != OpGeneral {
		return op
	}
	rpc := strings.ToLower(stringify(data["tf_rpc"]))
	return firstMatch(rpc, rpcHints, OpGeneral)
}

func DetectOperationFromRaw(line string) Operation {
	return firstMatch(strings.ToLower(line), rawOperationMarkers, OpGeneral)
}

func DetectComponent(message string) Component {
	return firstMatch(strings.ToLower(message), componentMarkers, ComponentUnknown)
}

func DetectComponentFromRaw(line string) Component {
	return firstMatch(strings.ToLower(line), rawComponentMarkers, ComponentUnknown)
}

func DetectMessageType(message string) MessageType {
	return firstMatch(strings.ToLower(message), messageTypeMarkers, TypeInfo)
}

// ExtractLevel prefers an explicit level field when it names a known level and falls
// back to keywords in the message.
func ExtractLevel(message string, data map[string]any) Level {
	for _, field := range levelFields {
		v, ok := data[field]
		if !ok || !present(v) {
			continue
		}
		if lvl, ok := NormalizeLevel(stringify(v)); ok {
			return lvl
		}
	}
	return firstMatch(strings.ToLower(message), levelMarkers, LevelInfo)
}

func ExtractLevelFromRaw(line string) Level {
	return firstMatch(strings.ToLower(line), rawLevelMarkers, LevelInfo)
}

// NormalizeLevel maps a level name to a Level; "warning" is an alias of warn.
func NormalizeLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, true
	case "warn", "warning":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	case "trace":
		return LevelTrace, true
	default:
		return "", false
	}
}
