package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/fogfactory/datapipe"
)

// Record is one CSV row keyed by the header fields.
type Record map[string]string

// CSV yields the records of the CSV file at path. The first row is the header. Missing trailing fields are empty and
// extra fields are ignored.
func CSV(path string) *datapipe.Dataset[Record] {
	return datapipe.FromFunc(func(ctx context.Context) datapipe.Iterator[Record] {
		f, err := os.Open(path)
		if err != nil {
			return &csvIter{err: fmt.Errorf("%w: %w", datapipe.ErrSource, err)}
		}
		zerolog.Ctx(ctx).Debug().Str("path", path).Msg("reading csv records")
		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		return &csvIter{reader: reader, closer: f}
	})
}

type csvIter struct {
	reader *csv.Reader
	closer io.Closer
	header []string
	err    error
	done   bool
}

func (it *csvIter) Next(_ context.Context) (Record, bool, error) {
	if it.err != nil {
		return nil, false, it.err
	}
	if it.done {
		return nil, false, nil
	}
	if it.header == nil {
		header, err := it.read()
		if err != nil || header == nil {
			return nil, false, err
		}
		it.header = header
	}
	row, err := it.read()
	if err != nil || row == nil {
		return nil, false, err
	}
	record := make(Record, len(it.header))
	for i, key := range it.header {
		if i < len(row) {
			record[key] = row[i]
		} else {
			record[key] = ""
		}
	}
	return record, true, nil
}

// read returns the next row, or nil at the end of the file.
func (it *csvIter) read() ([]string, error) {
	row, err := it.reader.Read()
	switch {
	case errors.Is(err, io.EOF):
		it.done = true
		return nil, nil
	case err != nil:
		it.err = fmt.Errorf("%w: %w", datapipe.ErrSource, err)
		return nil, it.err
	}
	return row, nil
}

func (it *csvIter) Close() error {
	it.done = true
	if it.closer == nil {
		return nil
	}
	err := it.closer.Close()
	it.closer = nil
	return err
}
