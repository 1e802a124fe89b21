package tflog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxLineBytes = 16 << 20
	batchSize           = 512
)

type Options struct {
	// BodyFields defaults to DefaultBodyFields.
	BodyFields BodyFields
	// Workers > 1 classifies lines of a batch concurrently. Output order is unaffected.
	Workers int
	// MaxLineBytes bounds a single line; the rest of a longer line is dropped and the
	// kept prefix classified like any other line.
	MaxLineBytes int
}

// Parser turns Terraform log streams into ParseResults. It holds no state between
// calls and may be shared by concurrent parses.
type Parser struct {
	opts Options
}

func NewParser(opts Options) *Parser {
	if len(opts.BodyFields) == 0 {
		opts.BodyFields = DefaultBodyFields
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Parser{opts: opts}
}

func (p *Parser) BodyFields() BodyFields { return p.opts.BodyFields }

// ParseFile opens path and parses it.
func (p *Parser) ParseFile(ctx context.Context, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer f.Close()
	return p.Parse(ctx, f)
}

// Parse reads r line by line. If ctx is cancelled between lines, the records seen so
// far are returned with Partial set, together with ctx.Err().
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*ParseResult, error) {
	lines := newLineReader(r, p.opts.MaxLineBytes)
	res := &ParseResult{JSONBodies: make(map[string][]EmbeddedBody)}
	batch := make([]Line, 0, batchSize)
	lineNum := 0

	for {
		b, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrRead, lineNum+1, err)
		}
		lineNum++
		if err := ctx.Err(); err != nil {
			p.flush(res, batch)
			return p.finish(res, true), err
		}
		text := strings.TrimSpace(string(b))
		if text == "" {
			continue
		}
		batch = append(batch, SplitLine(lineNum, text))
		if len(batch) == batchSize {
			p.flush(res, batch)
			batch = batch[:0]
		}
	}
	p.flush(res, batch)
	return p.finish(res, false), nil
}

// lineReader splits a stream into lines of at most limit bytes. The rest of a longer
// line is read and dropped.
type lineReader struct {
	r     *bufio.Reader
	limit int
	buf   []byte
}

func newLineReader(r io.Reader, limit int) *lineReader {
	size := 64 * 1024
	if size > limit {
		size = limit
	}
	return &lineReader{r: bufio.NewReaderSize(r, size), limit: limit}
}

// next returns the next line without its newline, or io.EOF once the stream is done.
// The slice is valid until the following call.
func (lr *lineReader) next() ([]byte, error) {
	lr.buf = lr.buf[:0]
	seen := false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if len(chunk) > 0 {
			seen = true
		}
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if room := lr.limit - len(lr.buf); len(chunk) > room {
			chunk = chunk[:room]
		}
		lr.buf = append(lr.buf, chunk...)

		switch {
		case err == nil:
			return lr.buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !seen {
				return nil, io.EOF
			}
			return lr.buf, nil
		default:
			return nil, err
		}
	}
}

type processed struct {
	rec    Record
	bodies []EmbeddedBody
}

// flush classifies a batch and appends the results in line order.
func (p *Parser) flush(res *ParseResult, batch []Line) {
	if len(batch) == 0 {
		return
	}
	out := make([]processed, len(batch))
	if p.opts.Workers == 1 || len(batch) == 1 {
		for i, l := range batch {
			out[i].rec, out[i].bodies = ProcessLine(l, p.opts.BodyFields)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.opts.Workers)
		for i := range batch {
			i := i
			g.Go(func() error {
				out[i].rec, out[i].bodies = ProcessLine(batch[i], p.opts.BodyFields)
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, o := range out {
		res.Logs = append(res.Logs, o.rec)
		if len(o.bodies) > 0 {
			res.JSONBodies[o.rec.ID] = o.bodies
		}
	}
}

func (p *Parser) finish(res *ParseResult, partial bool) *ParseResult {
	sort.SliceStable(res.Logs, func(i, j int) bool {
		return res.Logs[i].LineNumber < res.Logs[j].LineNumber
	})
	if res.Logs == nil {
		res.Logs = []Record{}
	}
	res.Count = len(res.Logs)
	res.Statistics = ComputeStatistics(res.Logs)
	res.Partial = partial
	return res
}
