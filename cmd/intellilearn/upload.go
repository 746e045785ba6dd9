package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/intellilearn/internal/cli"
	"github.com/hyperjump/intellilearn/internal/doclist"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/upload"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// uploadOptions configures uploadFiles.
type uploadOptions struct {
	userID      string
	topicID     string
	concurrency int
	coordOpts   []upload.Option
	logger      *zap.Logger
	// list, when set, shows a placeholder per file while it uploads and is
	// refreshed after each completed document.
	list *doclist.Cache
}

// uploadFiles uploads every path through its own coordinator, at most opts.concurrency
// at a time, and prints a progress line to out whenever a file's line changes. Every
// file is attempted; the returned error counts the failures.
func uploadFiles(ctx context.Context, client upload.Client, paths []string, opts uploadOptions, out io.Writer) ([]*models.DocumentStatusResponse, error) {
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		fmt.Fprintln(out, line)
		mu.Unlock()
	}

	results := make([]*models.DocumentStatusResponse, len(paths))
	failed := make([]bool, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if opts.concurrency > 0 {
		g.SetLimit(opts.concurrency)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			name := filepath.Base(path)
			f, err := os.Open(path)
			if err != nil {
				emit(fmt.Sprintf("%s: failed: %v", name, err))
				failed[i] = true
				return nil
			}
			defer f.Close()

			var placeholder string
			if opts.list != nil {
				placeholder = opts.list.AddPlaceholder(name)
			}

			var last string
			coordOpts := append([]upload.Option{
				upload.WithLogger(opts.logger),
				upload.WithOnChange(func(s upload.State) {
					line := cli.ProgressLine(name, s)
					mu.Lock()
					changed := line != last
					last = line
					mu.Unlock()
					if changed {
						emit(line)
					}
				}),
				upload.WithOnComplete(func(*models.DocumentStatusResponse) {
					if opts.list == nil {
						return
					}
					if err := opts.list.Refresh(gctx); err != nil {
						opts.logger.Warn("document list refresh failed", zap.Error(err))
					}
				}),
			}, opts.coordOpts...)
			coord := upload.New(client, opts.userID, opts.topicID, coordOpts...)
			defer coord.Close()

			st, err := coord.Upload(gctx, upload.File{Name: name, Content: f})
			results[i] = st
			if err != nil {
				failed[i] = true
				if opts.list != nil {
					opts.list.RemovePlaceholder(placeholder)
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	if n > 0 {
		return results, fmt.Errorf("%d of %d upload(s) failed", n, len(paths))
	}
	return results, nil
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	f := addCommonFlags(fs)
	showList := fs.Bool("list", false, "print the topic's document list when done (json: instead of the upload results)")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		exitf("Usage: intellilearn upload [-topic id] [-list] <file>...")
	}
	a := newApp(f)
	defer a.close()
	userID, topicID := a.requireUser(), a.requireTopic()
	list := doclist.New(a.client, topicID, doclist.WithLogger(a.logger))

	// Keep stdout parseable in json mode.
	progress := io.Writer(os.Stdout)
	if a.format == cli.OutputJSON {
		progress = os.Stderr
	}
	ctx, stop := signalContext()
	defer stop()
	results, err := uploadFiles(ctx, a.client, fs.Args(), uploadOptions{
		userID:      userID,
		topicID:     topicID,
		concurrency: a.cfg.Upload.Concurrency,
		coordOpts:   []upload.Option{upload.WithPollInterval(a.cfg.Upload.PollInterval)},
		logger:      a.logger,
		list:        list,
	}, progress)
	switch {
	case *showList:
		if list.RefreshedAt().IsZero() {
			// Nothing completed, so the list was never fetched.
			if rerr := list.Refresh(context.Background()); rerr != nil {
				fmt.Fprintf(os.Stderr, "List documents failed: %v\n", rerr)
			}
		}
		if a.format == cli.OutputText {
			fmt.Println()
		}
		_ = cli.WriteDocuments(os.Stdout, list.Documents(), a.format)
	case a.format == cli.OutputJSON:
		done := make([]*models.DocumentStatusResponse, 0, len(results))
		for _, r := range results {
			if r != nil {
				done = append(done, r)
			}
		}
		_ = writeJSON(os.Stdout, done)
	}
	if err != nil {
		exitf("%v", err)
	}
}
