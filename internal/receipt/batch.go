package receipt

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DefaultWindowSize is the number of files processed together in concurrent mode
const DefaultWindowSize = 3

// BatchOptions selects how a batch is scheduled
type BatchOptions struct {
	// Concurrent runs files in fixed-size windows instead of one at a time
	Concurrent bool
	// WindowSize is the number of files per window, DefaultWindowSize when <= 0
	WindowSize int
}

// Orchestrator runs the pipeline over a set of queued files.
// It holds no result state; everything is reported through the UpdateFunc.
type Orchestrator struct {
	pipeline *Pipeline
	opts     BatchOptions
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(pipeline *Pipeline, opts BatchOptions) *Orchestrator {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	return &Orchestrator{
		pipeline: pipeline,
		opts:     opts,
	}
}

// Run processes files and returns once every file has reached done or error.
// Sequential mode finishes each file before starting the next, in slice order.
// Concurrent mode runs each window in parallel and waits for the whole window to
// settle before starting the next one.
func (o *Orchestrator) Run(ctx context.Context, files []QueuedFile, company CompanyDetails, onUpdate UpdateFunc) {
	if !o.opts.Concurrent {
		for _, f := range files {
			o.pipeline.Run(ctx, f, company, onUpdate)
		}
		return
	}

	for i, window := range windows(files, o.opts.WindowSize) {
		slog.Debug("Starting window", "window", i+1, "files", len(window))
		var g errgroup.Group
		for _, f := range window {
			g.Go(func() error {
				o.pipeline.Run(ctx, f, company, onUpdate)
				return nil
			})
		}
		// Pipeline.Run reports failures through onUpdate, so Wait only joins
		_ = g.Wait()
	}
}

// windows partitions files into consecutive chunks of at most size files
func windows(files []QueuedFile, size int) [][]QueuedFile {
	if size <= 0 {
		size = DefaultWindowSize
	}
	var out [][]QueuedFile
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		out = append(out, files[start:end])
	}
	return out
}
