package source_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxatome/go-testdeep/td"

	"github.com/fogfactory/datapipe"
	"github.com/fogfactory/datapipe/source"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	td.Require(t).CmpNoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestTextLines(t *testing.T) {
	ctx := context.Background()

	t.Run("line_terminators", func(t *testing.T) {
		// Arrange
		path := writeFile(t, "corpus.txt", "first\nsecond\r\n\nlast\r")

		// Act
		lines, err := datapipe.Collect(ctx, source.TextLines(path))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, lines, []string{"first", "second", "", "last\r"})
	})

	t.Run("final_newline", func(t *testing.T) {
		// Arrange
		path := writeFile(t, "corpus.txt", "a\nb\n")

		// Act
		lines, err := datapipe.Collect(ctx, source.TextLines(path))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, lines, []string{"a", "b"})
	})

	t.Run("restartable", func(t *testing.T) {
		// Arrange
		path := writeFile(t, "corpus.txt", "a\nb\n")

		// Act
		lines, err := datapipe.Collect(ctx, datapipe.Repeat(source.TextLines(path), 2))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, lines, []string{"a", "b", "a", "b"})
	})

	t.Run("missing_file", func(t *testing.T) {
		// Act
		_, err := datapipe.Collect(ctx, source.TextLines(filepath.Join(t.TempDir(), "missing.txt")))

		// Assert
		td.CmpErrorIs(t, err, datapipe.ErrSource)
		td.CmpErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("reader_single_pass", func(t *testing.T) {
		// Arrange
		ds := source.Lines(strings.NewReader("x\ny"))

		// Act
		first, err1 := datapipe.Collect(ctx, ds)
		second, err2 := datapipe.Collect(ctx, ds)

		// Assert
		td.CmpNoError(t, err1)
		td.CmpNoError(t, err2)
		td.Cmp(t, first, []string{"x", "y"})
		td.CmpEmpty(t, second)
	})
}

func TestCSV(t *testing.T) {
	ctx := context.Background()

	t.Run("records", func(t *testing.T) {
		// Arrange
		path := writeFile(t, "corpus.csv", "id,text,label\n1,hello world,greet\n2,short\n3,\"a, b\",list,extra\n")

		// Act
		records, err := datapipe.Collect(ctx, source.CSV(path))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, records, []source.Record{
			{"id": "1", "text": "hello world", "label": "greet"},
			{"id": "2", "text": "short", "label": ""},
			{"id": "3", "text": "a, b", "label": "list"},
		})
	})

	t.Run("header_only", func(t *testing.T) {
		// Arrange
		path := writeFile(t, "corpus.csv", "id,text\n")

		// Act
		records, err := datapipe.Collect(ctx, source.CSV(path))

		// Assert
		td.CmpNoError(t, err)
		td.CmpEmpty(t, records)
	})

	t.Run("malformed", func(t *testing.T) {
		// Arrange
		path := writeFile(t, "corpus.csv", "id,text\n1,\"unterminated\n")

		// Act
		_, err := datapipe.Collect(ctx, source.CSV(path))

		// Assert
		td.CmpErrorIs(t, err, datapipe.ErrSource)
	})

	t.Run("missing_file", func(t *testing.T) {
		// Act
		_, err := datapipe.Collect(ctx, source.CSV(filepath.Join(t.TempDir(), "missing.csv")))

		// Assert
		td.CmpErrorIs(t, err, datapipe.ErrSource)
	})
}
