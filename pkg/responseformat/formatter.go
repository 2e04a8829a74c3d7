// Package responseformat encodes result documents as JSON or MessagePack.
package responseformat

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is a serialisation format
type Format string

const (
	// JSON is the default format
	JSON Format = "json"

	// MsgPack is MessagePack, keyed by the same json struct tags
	MsgPack Format = "msgpack"
)

// ParseFormat maps a configured format name to a Format
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case JSON, MsgPack:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unknown output format %q", name)
	}
}

// Formatter handles encoding and decoding documents in JSON or MessagePack format
type Formatter struct {
	format Format
}

// NewFormatter creates a new formatter. Unknown formats fall back to JSON.
func NewFormatter(format Format) *Formatter {
	if format != MsgPack {
		format = JSON
	}
	return &Formatter{format: format}
}

// Format returns the format in use
func (f *Formatter) Format() Format {
	return f.format
}

// Extension returns the file extension for the format, without a dot
func (f *Formatter) Extension() string {
	return string(f.format)
}

// Write encodes data to w
func (f *Formatter) Write(w io.Writer, data any) error {
	if f.format == MsgPack {
		return f.writeMsgPack(w, data)
	}
	return f.writeJSON(w, data)
}

// Read decodes one document from r into v
func (f *Formatter) Read(r io.Reader, v any) error {
	if f.format == MsgPack {
		decoder := msgpack.NewDecoder(r)
		decoder.SetCustomStructTag("json")
		return decoder.Decode(v)
	}
	return json.NewDecoder(r).Decode(v)
}

func (f *Formatter) writeJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) writeMsgPack(w io.Writer, data any) error {
	encoder := msgpack.NewEncoder(w)
	encoder.SetCustomStructTag("json") // Use json tags for MessagePack
	return encoder.Encode(data)
}
