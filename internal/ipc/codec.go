package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single frame. A result with every bus of a busy stop is a few KB.
const maxFrameSize = 1 << 20

// Encoder writes newline-delimited JSON frames. Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

// Encode writes one frame
func (e *Encoder) Encode(msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", msg.Kind, err)
	}
	return nil
}

// Decoder reads newline-delimited JSON frames
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Decoder{scanner: scanner}
}

// Decode reads the next frame. It returns io.EOF when the stream ends cleanly.
// Blank lines are skipped; a malformed frame is an error and ends the stream.
func (d *Decoder) Decode() (Message, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, fmt.Errorf("malformed frame: %w", err)
		}
		if err := msg.Validate(); err != nil {
			return Message{}, fmt.Errorf("invalid frame: %w", err)
		}
		return msg, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("failed to read frame: %w", err)
	}
	return Message{}, io.EOF
}
