package file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const sniffLen = 3072

var ErrContentMismatch = errors.New("file content does not match its extension")

// Sniff peeks at the start of r and checks that the detected content type
// fits the file extension: text for .csv/.tsv/.txt, a zip workbook for .xlsx.
// The returned reader still yields the whole stream.
func Sniff(name string, r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("peek %s: %w", name, err)
	}
	if len(head) == 0 {
		return br, nil
	}

	detected := mimetype.Detect(head)
	var ok bool
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		ok = isA(detected, "application/zip")
	case ".csv", ".tsv", ".txt":
		ok = isA(detected, "text/plain")
	default:
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrContentMismatch, name, detected.String())
	}
	return br, nil
}

func isA(m *mimetype.MIME, want string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}
