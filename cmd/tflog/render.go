package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

// report is what parse prints for one input file.
type report struct {
	File       string                          `json:"file"`
	Size       int64                           `json:"size_bytes"`
	Page       *tflog.Page                     `json:"page"`
	Bodies     map[string][]tflog.EmbeddedBody `json:"json_bodies,omitempty"`
	Statistics *tflog.Statistics               `json:"statistics,omitempty"`
	Partial    bool                            `json:"partial,omitempty"`
}

type renderOptions struct {
	Fields bool
	Bodies bool
	Stats  bool
}

type renderer interface {
	Render(rep *report) error
}

func newRenderer(format string, w io.Writer, opts renderOptions) (renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &textRenderer{w: w, opts: opts}, nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return &jsonRenderer{enc: enc}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text or json)", format)
	}
}

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleTime    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleTrace   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Faint(true)
	styleDebug   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleContext = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true)
	styleField   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func styleLevel(level tflog.Level) string {
	padded := fmt.Sprintf("%-5s", strings.ToUpper(string(level)))
	switch level {
	case tflog.LevelTrace:
		return styleTrace.Render(padded)
	case tflog.LevelDebug:
		return styleDebug.Render(padded)
	case tflog.LevelWarn:
		return styleWarn.Render(padded)
	case tflog.LevelError:
		return styleError.Render(padded)
	default:
		return styleInfo.Render(padded)
	}
}

type textRenderer struct {
	w    io.Writer
	opts renderOptions
}

func (r *textRenderer) Render(rep *report) error {
	p := rep.Page
	header := fmt.Sprintf("%s (%s) page %d/%d, %d matching",
		rep.File, humanize.Bytes(uint64(rep.Size)), p.Page, p.TotalPages, p.TotalCount)
	if rep.Partial {
		header += ", incomplete"
	}
	if _, err := fmt.Fprintln(r.w, styleHeader.Render(header)); err != nil {
		return err
	}

	for _, rec := range p.Logs {
		if err := r.renderRecord(rec, rep.Bodies[rec.ID]); err != nil {
			return err
		}
	}
	if r.opts.Stats && rep.Statistics != nil {
		renderStatistics(r.w, *rep.Statistics)
	}
	return nil
}

func (r *textRenderer) renderRecord(rec tflog.RecordView, bodies []tflog.EmbeddedBody) error {
	ctx := string(rec.Operation) + "/" + string(rec.Component)
	if rec.TFReqID != "" {
		ctx += " req=" + rec.TFReqID
	}
	if rec.TFRPC != "" {
		ctx += " rpc=" + rec.TFRPC
	}
	line := fmt.Sprintf("%s %s %s %s",
		styleTime.Render(fmt.Sprintf("%-12s", rec.Timestamp)),
		styleLevel(rec.Level),
		styleContext.Render(ctx),
		rec.Message)
	if rec.HasJSONBodies {
		line += " " + styleContext.Render("{}")
	}
	if _, err := fmt.Fprintln(r.w, line); err != nil {
		return err
	}

	if r.opts.Fields {
		for _, f := range flatten(rec.RawData, 0, 0) {
			if _, err := fmt.Fprintf(r.w, "    %s %v\n", styleField.Render(f.Path+"="), f.Value); err != nil {
				return err
			}
		}
	}
	if r.opts.Bodies {
		for _, b := range bodies {
			data, err := json.MarshalIndent(b.JSONData, "    ", "  ")
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(r.w, "    %s %s\n", styleField.Render(b.FieldName+":"), data); err != nil {
				return err
			}
		}
	}
	return nil
}

type jsonRenderer struct {
	enc *json.Encoder
}

func (r *jsonRenderer) Render(rep *report) error {
	return r.enc.Encode(rep)
}

// renderStatistics prints the per-level, per-operation and per-component counts.
func renderStatistics(w io.Writer, st tflog.Statistics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Group", "Value", "Count"})
	appendCounts(t, "level", st.ByLevel)
	appendCounts(t, "operation", st.ByOperation)
	appendCounts(t, "component", st.ByComponent)
	t.AppendFooter(table.Row{"total", "", st.TotalEntries})
	t.AppendFooter(table.Row{"errors", "", st.ErrorsCount})
	t.Render()
}

func appendCounts[K ~string](t table.Writer, group string, counts map[K]int) {
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		t.AppendRow(table.Row{group, string(k), counts[k]})
	}
	t.AppendSeparator()
}
