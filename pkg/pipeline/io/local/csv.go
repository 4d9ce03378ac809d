package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/pkg/errors"

	"github.com/palantir/csv-aggregator/pkg/pipeline/schema"
	"github.com/palantir/csv-aggregator/pkg/pipeline/table"
)

var (
	// ErrEmptyData is returned when a source has no header or no data rows.
	ErrEmptyData = errors.New("no data rows")
	// ErrMalformed is returned when a source cannot be parsed as header-row CSV.
	ErrMalformed = errors.New("malformed csv")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadDataset reads comma-delimited CSV whose first record is the header.
//
// Header names are normalized with schema.NormalizeHeader. Records shorter
// than the header are padded with missing cells; longer records are malformed.
func ReadDataset(ctx context.Context, r io.Reader) (*table.Dataset, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyData
	}
	if err != nil {
		return nil, wrapRead(err, "read header")
	}

	ds := &table.Dataset{Columns: schema.NormalizeHeader(header)}
	width := len(ds.Columns)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapRead(err, "read row")
		}
		if len(rec) > width {
			line, _ := cr.FieldPos(0)
			return nil, errors.Wrapf(ErrMalformed, "line %d: expected %d fields, saw %d", line, width, len(rec))
		}
		row := make(table.Row, width)
		for i, v := range rec {
			row[i] = table.Text(v)
		}
		ds.Rows = append(ds.Rows, row)
	}

	if len(ds.Rows) == 0 {
		return nil, ErrEmptyData
	}
	return ds, nil
}

func wrapRead(err error, msg string) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return errors.Wrapf(ErrMalformed, "%s: %v", msg, pe)
	}
	return errors.Wrap(err, msg)
}

// WriteOptions controls CSV serialization.
type WriteOptions struct {
	// MissingValue is written for cells that are not Valid.
	MissingValue string
}

// WriteDataset writes the header followed by one record per row. No index
// column is written. Quoting follows encoding/csv.
func WriteDataset(w io.Writer, ds *table.Dataset, opts WriteOptions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return errors.Wrap(err, "write header")
	}
	rec := make([]string, len(ds.Columns))
	for i, row := range ds.Rows {
		for j := range rec {
			rec[j] = opts.MissingValue
			if j < len(row) && row[j].Valid {
				rec[j] = row[j].Value
			}
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}
