package pipeline

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/palantir/csv-aggregator/internal/config"
	"github.com/palantir/csv-aggregator/pkg/pipeline/io/local"
	"github.com/palantir/csv-aggregator/pkg/pipeline/table"
)

// Save writes ds as CSV to filename inside baseDir and returns the full path.
// An empty filename means config.DefaultOutputFilename; an absolute filename
// ignores baseDir.
//
// The data is written to a temporary sibling and renamed into place, so a
// failed write leaves any previous file untouched. Failures are logged and
// returned.
func Save(ds *table.Dataset, baseDir, filename string, opts Options, logger *zap.Logger) (string, error) {
	if filename == "" {
		filename = config.DefaultOutputFilename
	}
	out := filename
	if !filepath.IsAbs(out) {
		out = filepath.Join(baseDir, filename)
	}

	size, err := writeFile(out, ds, local.WriteOptions{MissingValue: opts.MissingValue})
	if err != nil {
		logger.Error("Error saving file: "+err.Error(), zap.String("path", out))
		return "", err
	}

	logger.Info("Aggregated data saved to "+out,
		zap.String("path", out),
		zap.Int("rows", ds.Len()),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	return out, nil
}

func writeFile(path string, ds *table.Dataset, opts local.WriteOptions) (_ int64, err error) {
	if ds == nil {
		return 0, errors.New("no dataset to write")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, errors.Wrap(err, "create output file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	cw := &countingWriter{w: bw}
	if err = local.WriteDataset(cw, ds, opts); err != nil {
		return 0, err
	}
	if err = bw.Flush(); err != nil {
		return 0, errors.Wrap(err, "flush output file")
	}
	// CreateTemp uses 0600; match what os.Create would have produced.
	if err = tmp.Chmod(0o644); err != nil {
		return 0, errors.Wrap(err, "chmod output file")
	}
	if err = tmp.Sync(); err != nil {
		return 0, errors.Wrap(err, "sync output file")
	}
	if err = tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "close output file")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, errors.Wrap(err, "move output file into place")
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
