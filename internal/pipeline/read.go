// Package pipeline implements the read/merge and write stages of an
// aggregation run.
package pipeline

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/palantir/csv-aggregator/internal/config"
	"github.com/palantir/csv-aggregator/pkg/pipeline/core"
	"github.com/palantir/csv-aggregator/pkg/pipeline/io/local"
	"github.com/palantir/csv-aggregator/pkg/pipeline/table"
	"github.com/palantir/csv-aggregator/pkg/pipeline/worker"
)

type Options struct {
	Workers      int
	MaxRetries   int
	ReadTimeout  time.Duration
	RateLimitRPS float64
	MissingValue string
}

// OptionsFromConfig copies the reader and writer settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:      cfg.Workers,
		MaxRetries:   cfg.MaxRetries,
		ReadTimeout:  cfg.ReadTimeout,
		RateLimitRPS: cfg.RateLimitRPS,
		MissingValue: cfg.MissingValue,
	}
}

type loadedFile struct {
	data *table.Dataset
	size int64
}

// ReadAndConcat loads every path as a CSV dataset and stacks them in path
// order.
//
// Files that are empty or fail to read are logged and skipped. When nothing
// could be read the result is nil with a nil error: that is an ordinary
// "nothing to aggregate" outcome. An error is returned only if ctx ends.
func ReadAndConcat(ctx context.Context, paths []string, opts Options, logger *zap.Logger) (*table.Dataset, error) {
	if len(paths) == 0 {
		logger.Warn("No valid files to process")
		return nil, nil
	}

	results, err := worker.ProcessAll(ctx, paths, core.ProcessFunc[string, loadedFile](readFile), worker.Options{
		Workers:      opts.Workers,
		MaxRetries:   opts.MaxRetries,
		Timeout:      opts.ReadTimeout,
		RateLimitRPS: opts.RateLimitRPS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "read csv files")
	}

	sets := make([]*table.Dataset, 0, len(results))
	for _, res := range results {
		path := res.Input
		switch {
		case res.Err == nil:
			logger.Info("Successfully processed: "+path,
				zap.String("path", path),
				zap.Int("rows", res.Output.data.Len()),
				zap.Int("columns", len(res.Output.data.Columns)),
				zap.String("size", humanize.Bytes(uint64(res.Output.size))),
			)
			sets = append(sets, res.Output.data)
		case errors.Is(res.Err, local.ErrEmptyData):
			logger.Warn("Empty file: "+path, zap.String("path", path))
		default:
			logger.Error("Error processing "+path+": "+res.Err.Error(),
				zap.String("path", path),
				zap.Int("attempts", res.Attempts),
			)
		}
	}

	if len(sets) == 0 {
		logger.Warn("No datasets were processed")
		return nil, nil
	}

	combined := table.Concat(sets...)
	logger.Debug("combined datasets",
		zap.Int("files", len(sets)),
		zap.Int("rows", combined.Len()),
		zap.Strings("columns", combined.Columns),
	)
	return combined, nil
}

func readFile(ctx context.Context, path string) (loadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return loadedFile{}, classify(errors.Wrap(err, "open"))
	}
	defer func() {
		_ = f.Close()
	}()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	ds, err := local.ReadDataset(ctx, f)
	if err != nil {
		return loadedFile{}, classify(err)
	}
	return loadedFile{data: ds, size: size}, nil
}

// classify marks interrupted or busy I/O as retryable.
func classify(err error) error {
	for _, errno := range []syscall.Errno{syscall.EINTR, syscall.EAGAIN, syscall.EBUSY} {
		if errors.Is(err, errno) {
			return &core.TransientError{Err: err}
		}
	}
	return err
}
