package source

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

func xlsxFile(path, sheet string) readFunc {
	return func(ctx context.Context, out chan<- []string) error {
		f, err := xlsx.OpenFile(path)
		if err != nil {
			return eris.Wrap(err, "xlsx: open file")
		}
		return streamSheet(ctx, f, sheet, out)
	}
}

func xlsxBytes(data []byte, sheet string) readFunc {
	return func(ctx context.Context, out chan<- []string) error {
		f, err := xlsx.OpenBinary(data)
		if err != nil {
			return eris.Wrap(err, "xlsx: open workbook")
		}
		return streamSheet(ctx, f, sheet, out)
	}
}

func streamSheet(ctx context.Context, f *xlsx.File, name string, out chan<- []string) error {
	sheet, err := getSheet(f, name)
	if err != nil {
		return err
	}

	for _, row := range sheet.Rows {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		if row == nil {
			continue
		}

		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}

		select {
		case out <- cells:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
	}
	return nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}
