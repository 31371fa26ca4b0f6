package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single LAN frame. Task payloads are small; anything
// bigger than this is a broken or hostile peer.
const maxFrameSize = 256 * 1024

// WriteFrame writes one newline-terminated JSON frame.
func WriteFrame(w io.Writer, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// NewFrameScanner returns a scanner that yields one frame per Scan. The
// scanner buffers until a '\n' is found, so TCP segmentation and coalescing
// are both handled.
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), maxFrameSize)
	return sc
}

// ParseFrame decodes a single frame's bytes into a Message.
func ParseFrame(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("parse frame: %w", err)
	}
	switch m.Type {
	case TypeEvent, TypeResponse, TypeBroadcast, TypeError:
	default:
		return Message{}, fmt.Errorf("parse frame: unknown type %q", m.Type)
	}
	return m, nil
}
