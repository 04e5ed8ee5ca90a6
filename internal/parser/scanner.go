package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1257 = "windows-1257"
)

// MaxLineLength bounds the bytes kept for one line. Longer lines are flagged
// as truncated and rejected on their own.
const MaxLineLength = 1024 * 1024

var ErrLineTooLong = errors.New("line exceeds maximum length")

// Line is one non-blank line of a manifest file.
type Line struct {
	No        int
	Text      string
	Truncated bool
}

// NewSourceReader wraps r so that it yields UTF-8 for the given source encoding.
func NewSourceReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingUTF8:
		return r, nil
	case EncodingWindows1257:
		return charmap.Windows1257.NewDecoder().Reader(r), nil
	case "iso-8859-13":
		return charmap.ISO8859_13.NewDecoder().Reader(r), nil
	}
	return nil, fmt.Errorf("unsupported source encoding %q", encoding)
}

// ReadLines reads every non-blank line of r. The register files carry no header row.
func ReadLines(r io.Reader, encoding string) ([]Line, error) {
	src, err := NewSourceReader(r, encoding)
	if err != nil {
		return nil, err
	}

	reader := bufio.NewReaderSize(src, 64*1024)

	var lines []Line
	lineNo := 0
	for {
		text, truncated, err := readLine(reader)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read line %d: %w", lineNo+1, err)
		}
		if err == io.EOF && text == "" && !truncated {
			break
		}

		lineNo++
		text = strings.TrimRight(text, "\r\n")
		if len(text) > MaxLineLength {
			text, truncated = text[:MaxLineLength], true
		}
		if strings.TrimSpace(text) != "" || truncated {
			lines = append(lines, Line{No: lineNo, Text: text, Truncated: truncated})
		}
		if err == io.EOF {
			break
		}
	}
	return lines, nil
}

// readLine returns the next line including its terminator. At most MaxLineLength bytes
// plus a CRLF are kept; the flag reports that the rest was dropped.
func readLine(reader *bufio.Reader) (string, bool, error) {
	const limit = MaxLineLength + 2
	var buf []byte
	truncated := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if !truncated {
			if room := limit - len(buf); len(chunk) > room {
				buf = append(buf, chunk[:room]...)
				truncated = true
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return string(buf), truncated, err
	}
}
