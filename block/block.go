// Package block implements the content-addressed record format used by the
// store journal and replicated between peers.
//
// A Block carries two digests: payload_hash covers the payload alone and hash
// covers the digests of every other field. Both are recomputed on decode and a
// block whose digests do not match is rejected as a whole. The digests detect
// corruption, not tampering: blocks are not signed.
package block

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Field names as persisted and transmitted.
const (
	KeyAuthor      = "author"
	KeyPayload     = "payload"
	KeyPayloadHash = "payload_hash"
	KeyMetadata    = "metadata"
	KeyDate        = "date"
	KeyHash        = "hash"
)

// Keys lists every field a serialized block must carry.
var Keys = []string{KeyAuthor, KeyPayload, KeyPayloadHash, KeyMetadata, KeyDate, KeyHash}

// Metadata keys written by the store for journal entries.
const (
	MetaMethod = "method"
	MetaPath   = "path"
)

// Block is an immutable integrity-checked record.
type Block struct {
	Author      string            `json:"author"`
	Payload     any               `json:"payload"`
	PayloadHash string            `json:"payload_hash"`
	Metadata    map[string]string `json:"metadata"`
	Date        string            `json:"date"`
	Hash        string            `json:"hash"`
}

// Create builds a valid block for payload. Metadata may be nil.
func Create(author string, payload any, metadata map[string]string) (Block, error) {
	if author == "" {
		return Block{}, fmt.Errorf("%w: author must be a non-empty string", ErrInvalidField)
	}
	if !validPayload(payload) {
		return Block{}, fmt.Errorf("%w: unsupported payload type %T", ErrInvalidField, payload)
	}

	payloadHash, err := HashData(payload)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	b := Block{
		Author:      author,
		Payload:     payload,
		PayloadHash: payloadHash,
		Metadata:    copyMetadata(metadata),
		Date:        time.Now().UTC().Format(time.RFC3339Nano),
	}

	b.Hash, err = HashBlock(b)
	if err != nil {
		return Block{}, err
	}
	return b, nil
}

// HashData returns the hex BLAKE2b-256 digest of the canonical JSON form of v.
// A []byte and the base64 string it encodes to share a digest, which keeps a
// block valid after a JSON round trip.
func HashData(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value for hashing: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashBlock computes the record digest over every field except payload and hash.
func HashBlock(b Block) (string, error) {
	fields := []any{b.Author, b.PayloadHash, b.Metadata, b.Date}

	hashes := make([]string, 0, len(fields))
	for _, f := range fields {
		h, err := HashData(f)
		if err != nil {
			return "", err
		}
		hashes = append(hashes, h)
	}

	return HashData(strings.Join(hashes, " "))
}

// Verify recomputes both digests.
func Verify(b Block) error {
	payloadHash, err := HashData(b.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if payloadHash != b.PayloadHash {
		return fmt.Errorf("%w: payload hash mismatch", ErrIntegrity)
	}

	hash, err := HashBlock(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if hash != b.Hash {
		return fmt.Errorf("%w: block hash mismatch", ErrIntegrity)
	}
	return nil
}

// Valid reports whether both digests match.
func (b Block) Valid() bool {
	return Verify(b) == nil
}

// Method returns the store method recorded in the metadata, if any.
func (b Block) Method() string {
	return b.Metadata[MetaMethod]
}

// Path returns the store path recorded in the metadata, if any.
func (b Block) Path() string {
	return b.Metadata[MetaPath]
}

// Equal compares two blocks by their record digest and serialized content.
func (b Block) Equal(other Block) bool {
	if b.Hash != other.Hash {
		return false
	}
	left, err1 := json.Marshal(b)
	right, err2 := json.Marshal(other)
	return err1 == nil && err2 == nil && bytes.Equal(left, right)
}

// Serialize encodes a valid block. Invalid blocks are refused.
func Serialize(b Block) ([]byte, error) {
	if err := Verify(b); err != nil {
		return nil, err
	}
	return json.Marshal(b)
}

// Deserialize decodes raw and re-verifies the digests. Tagged byte and float
// values are restored and other numbers decode as json.Number; Native turns
// the payload into local values.
func Deserialize(raw []byte) (Block, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrNotBlock, err)
	}
	for _, key := range Keys {
		if _, ok := fields[key]; !ok {
			return Block{}, fmt.Errorf("%w: missing field %q", ErrNotBlock, key)
		}
	}

	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrNotBlock, err)
	}

	if err := Verify(b); err != nil {
		return Block{}, err
	}
	return b, nil
}

func validPayload(payload any) bool {
	if payload == nil {
		return true
	}
	switch payload.(type) {
	case string, bool, []byte, json.Number:
		return true
	}

	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Slice, reflect.Array:
		return true
	case reflect.Map:
		return v.Type().Key().Kind() == reflect.String
	default:
		return false
	}
}

func copyMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
