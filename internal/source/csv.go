package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

func csvFile(path string, delim rune) readFunc {
	return func(ctx context.Context, out chan<- []string) error {
		f, err := os.Open(path)
		if err != nil {
			return eris.Wrap(err, "csv: open file")
		}
		defer f.Close() //nolint:errcheck
		return streamCSV(ctx, f, delim, out)
	}
}

func csvBytes(data []byte, delim rune) readFunc {
	return func(ctx context.Context, out chan<- []string) error {
		return streamCSV(ctx, bytes.NewReader(data), delim, out)
	}
}

// streamCSV tolerates ragged rows and stray quotes, which spreadsheet
// exports produce often.
func streamCSV(ctx context.Context, r io.Reader, delim rune, out chan<- []string) error {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	for {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}

		select {
		case out <- record:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
	}
}
