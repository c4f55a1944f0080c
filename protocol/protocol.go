// Package protocol implements the Signal frame exchanged between hub peers.
//
// A frame is the start marker, the version, the 16-byte ID, the JSON channel
// list, the payload and the end marker, joined by Separator:
//
//	<BOB)--(0.11)--(<id>)--(["ch"])--(<payload>)--(BOB>
//
// Fields are not escaped. A payload containing the separator at a field
// boundary corrupts the frame.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Frame constants
const (
	Start     = "<BOB"
	End       = "BOB>"
	Version   = "0.11"
	Separator = ")--("

	// IDSize is the length of a Signal ID in bytes
	IDSize = 16

	// DefaultChannel is the catch-all channel for replicated journal blocks
	DefaultChannel = "X"
)

var (
	startMarker = []byte(Start)
	endMarker   = []byte(End)
	separator   = []byte(Separator)
	frameEnd    = []byte(Separator + End)
)

// Status is the outcome of Parse. Failures are negative and identify the
// first check that did not pass.
type Status int

// Parse outcomes
const (
	StatusOK          Status = 0
	StatusNotBytes    Status = -1
	StatusNoStart     Status = -2
	StatusNoEnd       Status = -3
	StatusFieldCount  Status = -4
	StatusVersion     Status = -5
	StatusBadID       Status = -6
	StatusBadChannels Status = -7
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotBytes:
		return "not bytes"
	case StatusNoStart:
		return "missing start marker"
	case StatusNoEnd:
		return "missing end marker"
	case StatusFieldCount:
		return "wrong field count"
	case StatusVersion:
		return "unsupported version"
	case StatusBadID:
		return "malformed id"
	case StatusBadChannels:
		return "malformed channel list"
	default:
		return "unknown"
	}
}

// Err returns nil for StatusOK and an ErrProtocol wrapping error otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return fmt.Errorf("%w: %s (%d)", ErrProtocol, s, int(s))
}

// Signal is an immutable network message.
type Signal struct {
	ID       [IDSize]byte
	Channels []string
	Data     []byte
}

// NewSignal creates a Signal with a random ID.
func NewSignal(channels []string, data []byte) (*Signal, error) {
	return NewSignalWithID(uuid.New(), channels, data)
}

// NewSignalWithID creates a Signal carrying id. Channels and data must be
// non-empty since empty fields cannot be told apart from boundaries on parse.
func NewSignalWithID(id [IDSize]byte, channels []string, data []byte) (*Signal, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: channel list is empty", ErrInvalidSignal)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidSignal)
	}

	s := &Signal{
		ID:       id,
		Channels: make([]string, len(channels)),
		Data:     make([]byte, len(data)),
	}
	copy(s.Channels, channels)
	copy(s.Data, data)
	return s, nil
}

// IDString returns the ID in canonical UUID form.
func (s *Signal) IDString() string {
	return uuid.UUID(s.ID).String()
}

// Bytes returns the framed form of the Signal.
func (s *Signal) Bytes() []byte {
	channels, err := json.Marshal(s.Channels)
	if err != nil {
		// []string always encodes
		panic(err)
	}

	return bytes.Join([][]byte{
		startMarker,
		[]byte(Version),
		s.ID[:],
		channels,
		s.Data,
		endMarker,
	}, separator)
}

// Equal reports whether both Signals frame to the same bytes.
func (s *Signal) Equal(other *Signal) bool {
	if s == nil || other == nil {
		return s == other
	}
	return bytes.Equal(s.Bytes(), other.Bytes())
}

// HasChannel reports whether the Signal is tagged with any of channels.
func (s *Signal) HasChannel(channels map[string]struct{}) bool {
	for _, ch := range s.Channels {
		if _, ok := channels[ch]; ok {
			return true
		}
	}
	return false
}

// Parse decodes one complete frame. On failure the returned Signal is nil and
// the status is negative.
func Parse(data []byte) (*Signal, Status) {
	if !bytes.HasPrefix(data, startMarker) {
		return nil, StatusNoStart
	}
	if len(data) < len(startMarker)+len(endMarker) || !bytes.HasSuffix(data, endMarker) {
		return nil, StatusNoEnd
	}

	trimmed := data[len(startMarker) : len(data)-len(endMarker)]
	parts := make([][]byte, 0, 4)
	for _, p := range bytes.Split(trimmed, separator) {
		if len(p) > 0 {
			parts = append(parts, p)
		}
	}
	if len(parts) != 4 {
		return nil, StatusFieldCount
	}
	if string(parts[0]) != Version {
		return nil, StatusVersion
	}
	if len(parts[1]) != IDSize {
		return nil, StatusBadID
	}

	var channels []string
	if err := json.Unmarshal(parts[2], &channels); err != nil || len(channels) == 0 {
		return nil, StatusBadChannels
	}

	s := &Signal{
		Channels: channels,
		Data:     make([]byte, len(parts[3])),
	}
	copy(s.ID[:], parts[1])
	copy(s.Data, parts[3])
	return s, StatusOK
}

// ParseValue is Parse for untyped input, such as a value read back from a
// store. Only []byte and string can hold a frame.
func ParseValue(v any) (*Signal, Status) {
	switch data := v.(type) {
	case []byte:
		return Parse(data)
	case string:
		return Parse([]byte(data))
	default:
		return nil, StatusNotBytes
	}
}

// NextFrame splits the first complete frame off buf. Bytes before the first
// start marker are dropped. When no complete frame is buffered yet, ok is
// false and rest holds what must be kept for the next read.
func NextFrame(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(buf, startMarker)
	if start < 0 {
		// keep a possible partial start marker
		keep := len(startMarker) - 1
		if keep > len(buf) {
			keep = len(buf)
		}
		return nil, buf[len(buf)-keep:], false
	}

	body := buf[start+len(startMarker):]
	end := bytes.Index(body, frameEnd)
	if end < 0 {
		return nil, buf[start:], false
	}

	stop := start + len(startMarker) + end + len(frameEnd)
	return buf[start:stop], buf[stop:], true
}
