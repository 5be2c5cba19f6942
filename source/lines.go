package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fogfactory/datapipe"
)

// TextLines yields the lines of the file at path, without their line terminator. An empty path reads standard input,
// which can be read only once.
func TextLines(path string) *datapipe.Dataset[string] {
	if path == "" {
		return datapipe.FromFunc(func(ctx context.Context) datapipe.Iterator[string] {
			zerolog.Ctx(ctx).Info().Msg("no file given, reading lines from stdin")
			return &lineIter{reader: bufio.NewReader(os.Stdin)}
		})
	}
	return datapipe.FromFunc(func(ctx context.Context) datapipe.Iterator[string] {
		f, err := os.Open(path)
		if err != nil {
			return &lineIter{err: fmt.Errorf("%w: %w", datapipe.ErrSource, err)}
		}
		zerolog.Ctx(ctx).Debug().Str("path", path).Msg("reading lines")
		return &lineIter{reader: bufio.NewReader(f), closer: f}
	})
}

// Lines yields the lines read from r. It is a single pass dataset.
func Lines(r io.Reader) *datapipe.Dataset[string] {
	reader := bufio.NewReader(r)
	return datapipe.FromFunc(func(_ context.Context) datapipe.Iterator[string] {
		return &lineIter{reader: reader}
	})
}

type lineIter struct {
	reader *bufio.Reader
	closer io.Closer
	err    error
	done   bool
}

func (it *lineIter) Next(_ context.Context) (string, bool, error) {
	if it.err != nil {
		return "", false, it.err
	}
	if it.done {
		return "", false, nil
	}
	line, err := it.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		it.err = fmt.Errorf("%w: %w", datapipe.ErrSource, err)
		return "", false, it.err
	}
	if errors.Is(err, io.EOF) {
		it.done = true
		if line == "" {
			return "", false, nil
		}
	}
	if trimmed, ok := strings.CutSuffix(line, "\n"); ok {
		line = strings.TrimSuffix(trimmed, "\r")
	}
	return line, true, nil
}

func (it *lineIter) Close() error {
	it.done = true
	if it.closer == nil {
		return nil
	}
	err := it.closer.Close()
	it.closer = nil
	return err
}
