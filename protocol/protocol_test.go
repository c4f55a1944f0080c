package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		channels []string
		data     []byte
	}{
		{"single channel", []string{"Ch1"}, []byte("hello")},
		{"many channels", []string{"a", "b", "c"}, []byte(`{"k":1}`)},
		{"binary payload", []string{DefaultChannel}, []byte{0x00, 0xff, 0x10, '\n'}},
		{"unicode channel", []string{"канал"}, []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSignal(tt.channels, tt.data)
			require.NoError(t, err)

			parsed, status := Parse(s.Bytes())
			require.Equal(t, StatusOK, status)
			assert.True(t, s.Equal(parsed))
			assert.Equal(t, s.ID, parsed.ID)
			assert.Equal(t, tt.channels, parsed.Channels)
			assert.Equal(t, tt.data, parsed.Data)
		})
	}
}

func TestSignalLayout(t *testing.T) {
	var id [IDSize]byte
	copy(id[:], "0123456789abcdef")

	s, err := NewSignalWithID(id, []string{"Ch1"}, []byte("data"))
	require.NoError(t, err)

	want := `<BOB)--(0.11)--(0123456789abcdef)--(["Ch1"])--(data)--(BOB>`
	assert.Equal(t, want, string(s.Bytes()))
}

func TestNewSignalRejects(t *testing.T) {
	_, err := NewSignal(nil, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidSignal)

	_, err = NewSignal([]string{"a"}, nil)
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestNewSignalCopiesInput(t *testing.T) {
	channels := []string{"a"}
	data := []byte("abc")

	s, err := NewSignal(channels, data)
	require.NoError(t, err)

	channels[0] = "z"
	data[0] = 'z'
	assert.Equal(t, []string{"a"}, s.Channels)
	assert.Equal(t, []byte("abc"), s.Data)
}

func TestSignalIDsAreUnique(t *testing.T) {
	a, err := NewSignal([]string{"a"}, []byte("x"))
	require.NoError(t, err)
	b, err := NewSignal([]string{"a"}, []byte("x"))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Equal(b))
	assert.Len(t, a.IDString(), 36)
}

func TestParseStatus(t *testing.T) {
	var id [IDSize]byte
	copy(id[:], "0123456789abcdef")
	valid, err := NewSignalWithID(id, []string{"Ch1"}, []byte("data"))
	require.NoError(t, err)
	raw := valid.Bytes()

	join := func(parts ...string) []byte {
		var b bytes.Buffer
		for i, p := range parts {
			if i > 0 {
				b.WriteString(Separator)
			}
			b.WriteString(p)
		}
		return b.Bytes()
	}

	tests := []struct {
		name  string
		input any
		want  Status
	}{
		{"not bytes", 42, StatusNotBytes},
		{"nil", nil, StatusNotBytes},
		{"no start", raw[1:], StatusNoStart},
		{"no end", raw[:len(raw)-1], StatusNoEnd},
		{"markers only", []byte("<BOB>"), StatusNoEnd},
		{"missing field", join(Start, Version, "0123456789abcdef", `["a"]`, End), StatusFieldCount},
		{"extra field", join(Start, Version, "0123456789abcdef", `["a"]`, "d", "e", End), StatusFieldCount},
		{"empty payload", join(Start, Version, "0123456789abcdef", `["a"]`, "", End), StatusFieldCount},
		{"version", join(Start, "0.12", "0123456789abcdef", `["a"]`, "d", End), StatusVersion},
		{"short id", join(Start, Version, "0123", `["a"]`, "d", End), StatusBadID},
		{"bad channels", join(Start, Version, "0123456789abcdef", `not json`, "d", End), StatusBadChannels},
		{"empty channels", join(Start, Version, "0123456789abcdef", `[]`, "d", End), StatusBadChannels},
		{"valid", raw, StatusOK},
		{"valid string", string(raw), StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, status := ParseValue(tt.input)
			assert.Equal(t, tt.want, status)
			if tt.want == StatusOK {
				require.NotNil(t, s)
				assert.NoError(t, status.Err())
				return
			}
			assert.Nil(t, s)
			assert.Less(t, int(status), 0)
			assert.True(t, errors.Is(status.Err(), ErrProtocol))
		})
	}
}

func TestParseStatusesAreDistinct(t *testing.T) {
	seen := make(map[Status]string)
	for _, s := range []Status{
		StatusNotBytes, StatusNoStart, StatusNoEnd, StatusFieldCount,
		StatusVersion, StatusBadID, StatusBadChannels,
	} {
		_, dup := seen[s]
		assert.False(t, dup, s.String())
		seen[s] = s.String()
	}
}

func TestHasChannel(t *testing.T) {
	s, err := NewSignal([]string{"a", "b"}, []byte("x"))
	require.NoError(t, err)

	assert.True(t, s.HasChannel(map[string]struct{}{"b": {}}))
	assert.False(t, s.HasChannel(map[string]struct{}{"c": {}}))
	assert.False(t, s.HasChannel(nil))
}

func TestNextFrame(t *testing.T) {
	a, err := NewSignal([]string{"a"}, []byte("first"))
	require.NoError(t, err)
	b, err := NewSignal([]string{"b"}, []byte("second"))
	require.NoError(t, err)

	var stream []byte
	stream = append(stream, "HUB/0.1\n\n"...)
	stream = append(stream, a.Bytes()...)
	stream = append(stream, "\n\n"...)
	stream = append(stream, b.Bytes()...)
	stream = append(stream, "\n\n"...)

	frame, rest, ok := NextFrame(stream)
	require.True(t, ok)
	assert.Equal(t, a.Bytes(), frame)

	frame, rest, ok = NextFrame(rest)
	require.True(t, ok)
	assert.Equal(t, b.Bytes(), frame)

	_, rest, ok = NextFrame(rest)
	assert.False(t, ok)
	assert.Len(t, rest, 2)
}

func TestNextFrameAcrossPartialReads(t *testing.T) {
	s, err := NewSignal([]string{"a"}, []byte("payload"))
	require.NoError(t, err)
	raw := append(s.Bytes(), "\n\n"...)

	var buf []byte
	var frames [][]byte
	for i := 0; i < len(raw); i += 3 {
		end := i + 3
		if end > len(raw) {
			end = len(raw)
		}
		buf = append(buf, raw[i:end]...)
		for {
			frame, rest, ok := NextFrame(buf)
			buf = rest
			if !ok {
				break
			}
			frames = append(frames, frame)
		}
	}

	require.Len(t, frames, 1)
	parsed, status := Parse(frames[0])
	require.Equal(t, StatusOK, status)
	assert.True(t, s.Equal(parsed))
}

func TestNextFrameWithoutStart(t *testing.T) {
	frame, rest, ok := NextFrame([]byte("garbage<BO"))
	assert.False(t, ok)
	assert.Nil(t, frame)
	assert.Equal(t, []byte("<BO"), rest)

	_, rest, ok = NextFrame(nil)
	assert.False(t, ok)
	assert.Empty(t, rest)
}
