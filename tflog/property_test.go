package tflog

import (
	"context"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var lineGen = rapid.OneOf(
	rapid.SampledFrom([]string{
		"",
		"   ",
		`{"@level":"error","@message":"Failed to apply resource","tf_req_id":"abc-123"}`,
		`{"@level":"warn","@message":"Refreshing state","@timestamp":"2023-08-01T10:22:31.000Z"}`,
		`{"@message":"HTTP Request","tf_http_req_body":"{\"a\":1}","tf_http_res_body":"nope"}`,
		`{"@message":"plan","body":"{\\\"x\\\":[1,2]}"}`,
		`{"level":"trace","msg":"grpc call","@timestamp":"2023-08-01T09:00:00Z","tf_rpc":"PlanResourceChange"}`,
		`[1,2,3]`,
		`{"truncated":`,
		"2023-08-01T11:00:00 [WARN] provider: req_id=zz9 slow",
	}),
	rapid.StringMatching(`[ a-z0-9:{}"\[\],_=-]{0,40}`),
)

func genInput(t *rapid.T) ([]string, string) {
	lines := rapid.SliceOfN(lineGen, 0, 60).Draw(t, "lines")
	return lines, strings.Join(lines, "\n")
}

func TestProperty_ParseInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines, input := genInput(t)
		res, err := NewParser(Options{Workers: rapid.IntRange(1, 4).Draw(t, "workers")}).
			Parse(context.Background(), strings.NewReader(input))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}

		var want []int
		for i, l := range lines {
			if strings.TrimSpace(l) != "" {
				want = append(want, i+1)
			}
		}
		if len(res.Logs) != len(want) || res.Count != len(want) {
			t.Fatalf("got %d records, want %d", len(res.Logs), len(want))
		}
		seen := make(map[string]bool)
		for i, r := range res.Logs {
			if r.LineNumber != want[i] {
				t.Fatalf("record %d has line %d, want %d", i, r.LineNumber, want[i])
			}
			if seen[r.ID] {
				t.Fatalf("duplicate id %s", r.ID)
			}
			seen[r.ID] = true
			if (r.MessageType == TypeRaw) != strings.HasPrefix(r.ID, "raw_") {
				t.Fatalf("%s has message type %s", r.ID, r.MessageType)
			}
			if r.Message == "" {
				t.Fatalf("%s has empty message", r.ID)
			}
		}

		s := res.Statistics
		for name, m := range map[string]int{
			"level":     sum(s.ByLevel),
			"operation": sum(s.ByOperation),
			"component": sum(s.ByComponent),
		} {
			if m != s.TotalEntries {
				t.Fatalf("by_%s sums to %d, total %d", name, m, s.TotalEntries)
			}
		}
		if s.ErrorsCount != s.ByLevel[LevelError] {
			t.Fatalf("errors_count %d, by_level[error] %d", s.ErrorsCount, s.ByLevel[LevelError])
		}

		for _, r := range res.Logs {
			bodies := res.JSONBodies[r.ID]
			for _, f := range DefaultBodyFields {
				if v, ok := r.RawData[f.Name]; ok && present(v) && r.MessageType != TypeRaw && !hasBody(bodies, f.Name) {
					t.Fatalf("%s lost body field %s", r.ID, f.Name)
				}
			}
		}
	})
}

func TestProperty_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		_, input := genInput(t)
		p := NewParser(Options{})
		a, err := p.Parse(context.Background(), strings.NewReader(input))
		if err != nil {
			t.Fatal(err)
		}
		b, err := p.Parse(context.Background(), strings.NewReader(input))
		if err != nil {
			t.Fatal(err)
		}
		if compactJSON(a) != compactJSON(b) {
			t.Fatalf("two parses of the same input differ")
		}
	})
}

func TestProperty_QueryIdempotentAndBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		_, input := genInput(t)
		res, err := NewParser(Options{}).Parse(context.Background(), strings.NewReader(input))
		if err != nil {
			t.Fatal(err)
		}
		f := Filter{
			Level:      rapid.SampledFrom([]string{"", "all", "error", "warn", "info", "trace"}).Draw(t, "level"),
			Operation:  rapid.SampledFrom([]string{"", "all", "plan", "apply", "general"}).Draw(t, "operation"),
			SearchText: rapid.SampledFrom([]string{"", "http", "a", "PLAN"}).Draw(t, "search"),
			BodyFilter: rapid.SampledFrom([]BodyFilter{"", BodyFilterAll, HasRequestBody, HasResponseBody, HasBothBodies}).Draw(t, "body"),
			TimeFrom:   rapid.SampledFrom([]string{"", "09:00:00", "10:30:00.000"}).Draw(t, "from"),
			PageSize:   rapid.IntRange(1, 10).Draw(t, "size"),
		}

		first, err := res.Query(f, QueryOptions{})
		if err != nil {
			t.Fatal(err)
		}
		second, err := res.Query(f, QueryOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if compactJSON(first) != compactJSON(second) {
			t.Fatalf("query is not idempotent")
		}

		wantPages := (first.TotalCount + f.PageSize - 1) / f.PageSize
		if first.TotalPages != wantPages {
			t.Fatalf("total_pages %d, want %d", first.TotalPages, wantPages)
		}

		total := 0
		for p := 1; p <= first.TotalPages; p++ {
			f.Page = p
			page, err := res.Query(f, QueryOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if len(page.Logs) == 0 || len(page.Logs) > f.PageSize {
				t.Fatalf("page %d has %d records", p, len(page.Logs))
			}
			total += len(page.Logs)
		}
		if total != first.TotalCount {
			t.Fatalf("pages hold %d records, total_count %d", total, first.TotalCount)
		}

		f.Page = first.TotalPages + 1 + rapid.IntRange(0, 3).Draw(t, "beyond")
		past, err := res.Query(f, QueryOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(past.Logs) != 0 || past.TotalCount != first.TotalCount {
			t.Fatalf("page past the end: %d records, total %d", len(past.Logs), past.TotalCount)
		}
	})
}

func sum[K comparable](m map[K]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func hasBody(bodies []EmbeddedBody, field string) bool {
	for _, b := range bodies {
		if b.FieldName == field {
			return true
		}
	}
	return false
}
