package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

type parseOptions struct {
	output       string
	all          bool
	workers      int
	maxLineBytes int
	render       renderOptions
	filter       tflog.Filter
}

func newParseCmd() *cobra.Command {
	var opts parseOptions
	var debug bool
	cmd := &cobra.Command{
		Use:   "parse FILE...",
		Short: "Parse log files and print the matching entries",
		Long: `Parse Terraform logs locally, without the database, and print one page of the
entries that pass the filters.

Examples:
  tflog parse terraform.log --level error
  tflog parse plan.log apply.log --operation apply --stats
  tflog parse terraform.log --body has_req_body --bodies --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(debug)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := newRenderer(opts.output, cmd.OutOrStdout(), opts.render)
			if err != nil {
				return err
			}
			reports, err := parseFiles(ctx, args, opts)
			if err != nil {
				return err
			}
			for _, rep := range reports {
				if err := r.Render(rep); err != nil {
					return err
				}
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.output, "output", "o", "text", "Output format: text or json.")
	fs.BoolVar(&opts.render.Stats, "stats", false, "Print statistics for each file.")
	fs.BoolVar(&opts.render.Fields, "fields", false, "Print every field of each entry.")
	fs.BoolVar(&opts.render.Bodies, "bodies", false, "Print the embedded JSON bodies of each entry.")
	fs.BoolVar(&opts.all, "all", false, "Print every matching entry instead of one page.")
	fs.IntVar(&opts.workers, "workers", 1, "Lines classified in parallel within a file.")
	fs.IntVar(&opts.maxLineBytes, "max-line-bytes", tflog.DefaultMaxLineBytes, "Longer lines are cut to this many bytes.")
	fs.BoolVar(&debug, "debug", false, "Enable debug logs.")

	f := &opts.filter
	fs.StringVarP(&f.Level, "level", "l", "", "Only entries of this level (error, warn, info, debug, trace).")
	fs.StringVar(&f.Operation, "operation", "", "Only entries of this operation (plan, apply, init, ...).")
	fs.StringVar(&f.Component, "component", "", "Only entries of this component (core, provider, http, ...).")
	fs.StringVar(&f.ReqID, "req-id", "", "Only entries whose tf_req_id contains this text.")
	fs.StringVarP(&f.SearchText, "search", "s", "", "Case-insensitive search in message, resource type and rpc.")
	fs.StringVar(&f.RawDataSearch, "raw-search", "", "Case-insensitive search in the raw JSON of each entry.")
	fs.StringVar((*string)(&f.BodyFilter), "body", "", "Body filter: all, has_req_body, has_res_body or has_both.")
	fs.StringVar(&f.TimeFrom, "from", "", "Earliest time of day, HH:MM:SS[.mmm].")
	fs.StringVar(&f.TimeTo, "to", "", "Latest time of day, HH:MM:SS[.mmm].")
	fs.IntVar(&f.Page, "page", 1, "Page to print.")
	fs.IntVar(&f.PageSize, "page-size", tflog.DefaultPageSize, "Entries per page.")
	return cmd
}

// parseFiles parses every path concurrently and returns the reports in argument order.
func parseFiles(ctx context.Context, paths []string, opts parseOptions) ([]*report, error) {
	if err := opts.filter.Validate(); err != nil {
		return nil, err
	}
	parser := tflog.NewParser(tflog.Options{Workers: opts.workers, MaxLineBytes: opts.maxLineBytes})

	reports := make([]*report, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			rep, err := parseOne(gctx, parser, path, opts)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func parseOne(ctx context.Context, parser *tflog.Parser, path string, opts parseOptions) (*report, error) {
	res, err := parser.ParseFile(ctx, path)
	if err != nil && !(res != nil && errors.Is(err, context.Canceled)) {
		return nil, err
	}

	f := opts.filter
	qopts := tflog.QueryOptions{BodyFields: parser.BodyFields()}
	if opts.all {
		f.Page = 1
		f.PageSize = max(res.Count, 1)
		qopts.MaxPageSize = f.PageSize
	}
	page, err := res.Query(f, qopts)
	if err != nil {
		return nil, err
	}

	rep := &report{File: path, Page: page, Partial: res.Partial}
	if info, err := os.Stat(path); err == nil {
		rep.Size = info.Size()
	}
	if opts.render.Bodies {
		rep.Bodies = make(map[string][]tflog.EmbeddedBody)
		for _, rec := range page.Logs {
			if b := res.JSONBodies[rec.ID]; len(b) > 0 {
				rep.Bodies[rec.ID] = b
			}
		}
	}
	if opts.render.Stats {
		st := res.Statistics
		rep.Statistics = &st
	}
	return rep, nil
}
