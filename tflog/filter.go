package tflog

import (
	"sort"
	"strconv"
	"strings"
)

type BodyFilter string

const (
	BodyFilterAll   BodyFilter = "all"
	HasRequestBody  BodyFilter = "has_req_body"
	HasResponseBody BodyFilter = "has_res_body"
	HasBothBodies   BodyFilter = "has_both"
)

const (
	DefaultPageSize    = 100
	DefaultMaxPageSize = 1000
)

// Filter selects records. Empty fields and "all" place no constraint; set fields are ANDed.
type Filter struct {
	Level         string     `json:"level,omitempty"`
	Operation     string     `json:"operation,omitempty"`
	Component     string     `json:"component,omitempty"`
	ReqID         string     `json:"req_id,omitempty"`
	SearchText    string     `json:"search_text,omitempty"`
	RawDataSearch string     `json:"raw_data_search,omitempty"`
	BodyFilter    BodyFilter `json:"body_filter,omitempty"`
	// TimeFrom and TimeTo are inclusive HH:MM:SS[.mmm] bounds.
	TimeFrom string `json:"time_from,omitempty"`
	TimeTo   string `json:"time_to,omitempty"`
	// Page is 1-based; zero means the first page. PageSize zero means DefaultPageSize.
	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

// RecordView is a record decorated for presentation.
type RecordView struct {
	Record
	HasJSONBodies bool `json:"has_json_bodies"`
}

type Page struct {
	Logs       []RecordView `json:"logs"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

// QueryOptions configures Query. Zero values select the defaults.
type QueryOptions struct {
	BodyFields  BodyFields
	MaxPageSize int
}

// ParsePaging converts optional page and page_size strings. Empty strings select the
// defaults; anything else must be a positive integer.
func ParsePaging(page, size string) (int, int, error) {
	p, s := 1, DefaultPageSize
	var err error
	if page != "" {
		if p, err = strconv.Atoi(page); err != nil || p < 1 {
			return 0, 0, invalid("page", "%q is not a positive integer", page)
		}
	}
	if size != "" {
		if s, err = strconv.Atoi(size); err != nil || s < 1 {
			return 0, 0, invalid("page_size", "%q is not a positive integer", size)
		}
	}
	return p, s, nil
}

// Validate checks the filter without applying it.
func (f Filter) Validate() error {
	_, err := f.compile(QueryOptions{})
	return err
}

// Query filters records, orders the matches by line number and returns the requested
// page. records and bodies are not modified.
func Query(records []Record, bodies map[string][]EmbeddedBody, f Filter, opts QueryOptions) (*Page, error) {
	m, err := f.compile(opts)
	if err != nil {
		return nil, err
	}

	matched := make([]Record, 0, len(records))
	for _, r := range records {
		if m.match(r) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LineNumber < matched[j].LineNumber
	})

	page := &Page{
		Logs:       []RecordView{},
		TotalCount: len(matched),
		Page:       m.page,
		PageSize:   m.size,
		TotalPages: (len(matched) + m.size - 1) / m.size,
	}
	start := (m.page - 1) * m.size
	if start >= len(matched) {
		return page, nil
	}
	end := start + m.size
	if end > len(matched) {
		end = len(matched)
	}
	for _, r := range matched[start:end] {
		page.Logs = append(page.Logs, RecordView{Record: r, HasJSONBodies: len(bodies[r.ID]) > 0})
	}
	return page, nil
}

// Query runs Query over the result's own records and bodies.
func (res *ParseResult) Query(f Filter, opts QueryOptions) (*Page, error) {
	return Query(res.Logs, res.JSONBodies, f, opts)
}

type matcher struct {
	f          Filter
	search     string
	rawSearch  string
	fields     BodyFields
	timed      bool
	fromMS     int
	toMS       int
	hasFrom    bool
	hasTo      bool
	page, size int
}

func (f Filter) compile(opts QueryOptions) (*matcher, error) {
	m := &matcher{
		f:         f,
		search:    strings.ToLower(f.SearchText),
		rawSearch: strings.ToLower(f.RawDataSearch),
		fields:    opts.BodyFields,
		page:      f.Page,
		size:      f.PageSize,
	}
	if len(m.fields) == 0 {
		m.fields = DefaultBodyFields
	}

	switch f.BodyFilter {
	case "", BodyFilterAll, HasRequestBody, HasResponseBody, HasBothBodies:
	default:
		return nil, invalid("body_filter", "unknown value %q", f.BodyFilter)
	}

	if f.TimeFrom != "" {
		ms, ok := ParseClock(f.TimeFrom)
		if !ok {
			return nil, invalid("time_from", "%q is not HH:MM:SS[.mmm]", f.TimeFrom)
		}
		m.fromMS, m.hasFrom = ms, true
	}
	if f.TimeTo != "" {
		ms, ok := ParseClock(f.TimeTo)
		if !ok {
			return nil, invalid("time_to", "%q is not HH:MM:SS[.mmm]", f.TimeTo)
		}
		m.toMS, m.hasTo = ms, true
	}
	m.timed = m.hasFrom || m.hasTo

	switch {
	case m.page < 0:
		return nil, invalid("page", "%d is not a positive integer", m.page)
	case m.page == 0:
		m.page = 1
	}
	switch {
	case m.size < 0:
		return nil, invalid("page_size", "%d is not a positive integer", m.size)
	case m.size == 0:
		m.size = DefaultPageSize
	}
	limit := opts.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	if m.size > limit {
		m.size = limit
	}
	return m, nil
}

func constrained(v string) bool { return v != "" && v != "all" }

func (m *matcher) match(r Record) bool {
	f := m.f
	if constrained(f.Level) && string(r.Level) != f.Level {
		return false
	}
	if constrained(f.Operation) && string(r.Operation) != f.Operation {
		return false
	}
	if constrained(f.Component) && string(r.Component) != f.Component {
		return false
	}
	if f.ReqID != "" && !strings.Contains(r.TFReqID, f.ReqID) {
		return false
	}
	if m.search != "" &&
		!strings.Contains(strings.ToLower(r.Message), m.search) &&
		!strings.Contains(strings.ToLower(r.TFResourceType), m.search) &&
		!strings.Contains(strings.ToLower(r.TFRPC), m.search) {
		return false
	}
	if m.rawSearch != "" && !strings.Contains(strings.ToLower(compactJSON(r.RawData)), m.rawSearch) {
		return false
	}
	if !m.matchBodies(r.RawData) {
		return false
	}
	if m.timed {
		ts, ok := ParseClock(r.Timestamp)
		if !ok {
			return false
		}
		if m.hasFrom && ts < m.fromMS {
			return false
		}
		if m.hasTo && ts > m.toMS {
			return false
		}
	}
	return true
}

func (m *matcher) matchBodies(data map[string]any) bool {
	switch m.f.BodyFilter {
	case HasRequestBody:
		return m.fields.hasAny(data, BodyRequest)
	case HasResponseBody:
		return m.fields.hasAny(data, BodyResponse)
	case HasBothBodies:
		return m.fields.hasAny(data, BodyRequest) && m.fields.hasAny(data, BodyResponse)
	default:
		return true
	}
}
