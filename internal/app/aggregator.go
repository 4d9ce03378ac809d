// Package app wires the parse, validate, read and write stages into a single
// aggregation run.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/palantir/csv-aggregator/internal/filelist"
	"github.com/palantir/csv-aggregator/internal/pipeline"
	"github.com/palantir/csv-aggregator/pkg/pipeline/table"
)

type Options struct {
	Pipeline pipeline.Options
	// OutputFilename defaults to config.DefaultOutputFilename when empty.
	OutputFilename string
	// BaseDir resolves relative input and output names. Empty means the
	// working directory at construction time.
	BaseDir string
}

// Aggregator combines the CSV files named in a file list into one output file.
type Aggregator struct {
	fileString string
	baseDir    string
	opts       Options
	logger     *zap.Logger

	read func(context.Context, []string, pipeline.Options, *zap.Logger) (*table.Dataset, error)
	save func(*table.Dataset, string, string, pipeline.Options, *zap.Logger) (string, error)
}

func NewAggregator(fileString string, opts Options, logger *zap.Logger) (*Aggregator, error) {
	baseDir := opts.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "resolve working directory")
		}
		baseDir = wd
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		fileString: fileString,
		baseDir:    baseDir,
		opts:       opts,
		logger:     logger,
		read:       pipeline.ReadAndConcat,
		save:       pipeline.Save,
	}, nil
}

// BaseDir returns the directory relative names are resolved against.
func (a *Aggregator) BaseDir() string {
	return a.baseDir
}

// Process runs one aggregation and returns the output path. The boolean is
// false when there was nothing to aggregate or any stage failed; the reason
// has already been logged. Process never panics.
func (a *Aggregator) Process(ctx context.Context) (out string, ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error(fmt.Sprintf("Data aggregation failed: %v", r))
			out, ok = "", false
		}
	}()

	out, err := a.run(ctx)
	if err != nil {
		a.logger.Error("Data aggregation failed: " + err.Error())
		return "", false
	}
	if out == "" {
		return "", false
	}
	a.logger.Debug("aggregation finished",
		zap.String("output", out),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	)
	return out, true
}

// run returns an empty path with a nil error when there is nothing to write.
func (a *Aggregator) run(ctx context.Context) (string, error) {
	candidates := filelist.Parse(a.fileString, a.baseDir)
	a.logger.Debug("parsed file list",
		zap.String("base_dir", a.baseDir),
		zap.Strings("candidates", candidates),
	)

	valid := filelist.Validate(candidates, a.logger)
	combined, err := a.read(ctx, valid, a.opts.Pipeline, a.logger)
	if err != nil {
		return "", err
	}
	if combined.Empty() {
		a.logger.Warn("No data to save")
		return "", nil
	}

	return a.save(combined, a.baseDir, a.opts.OutputFilename, a.opts.Pipeline, a.logger)
}
