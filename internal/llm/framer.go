package llm

import (
	"bufio"
	"io"
	"strings"
)

// FrameMode selects how a response body is split into frames.
type FrameMode int

const (
	// FrameSSE splits `event:`/`data:` server-sent events. Every data line
	// is its own frame, tagged with the most recent event name.
	FrameSSE FrameMode = iota
	// FrameNDJSON yields one frame per non-blank line.
	FrameNDJSON
)

const maxFrameSize = 1024 * 1024

// Frame is one unit of a provider stream.
type Frame struct {
	Event string
	Data  string
}

// FrameReader incrementally frames a streaming response body. Lines may
// arrive split across network reads; the reader only yields complete lines.
type FrameReader struct {
	scanner *bufio.Scanner
	mode    FrameMode
	event   string
}

func NewFrameReader(r io.Reader, mode FrameMode) *FrameReader {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxFrameSize)
	return &FrameReader{scanner: scanner, mode: mode}
}

// Next returns the next frame, or io.EOF once the body is exhausted.
func (f *FrameReader) Next() (Frame, error) {
	for f.scanner.Scan() {
		line := strings.TrimRight(f.scanner.Text(), "\r")
		if f.mode == FrameNDJSON {
			if strings.TrimSpace(line) == "" {
				continue
			}
			return Frame{Data: line}, nil
		}

		switch {
		case line == "":
			f.event = ""
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			f.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			return Frame{Event: f.event, Data: data}, nil
		}
	}
	if err := f.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
