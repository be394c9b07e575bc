package file

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

var ErrNoSheet = errors.New("workbook has no sheets")

// SpreadsheetReader reads the first sheet of an xlsx workbook.
type SpreadsheetReader struct{}

func NewSpreadsheetReader() *SpreadsheetReader {
	return &SpreadsheetReader{}
}

func (SpreadsheetReader) ReadRows(r io.Reader) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrNoSheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0], rows[1:], nil
}
