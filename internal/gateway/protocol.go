package gateway

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Wire protocol: each message is a 4-byte big-endian uint32 length
// followed by that many bytes of CBOR. Length-prefixing avoids the CBOR
// stream decoder's read-ahead buffering, which would consume bytes from
// the next message on the connection.
//
// Client → server kinds: "begin", "chunk", "end".
// Server → client: one reply per request, kind "ack" or "error".

// Message kinds.
const (
	KindBegin = "begin"
	KindChunk = "chunk"
	KindEnd   = "end"
	KindAck   = "ack"
	KindError = "error"
)

// Error codes carried on error replies.
const (
	CodeDuplicateSession = "duplicate_session"
	CodeNoActiveSession  = "no_active_session"
	CodeInternal         = "internal"
)

// MaxMessageSize bounds a single wire message. Chunk payloads are capped
// at 1MB by producers; the rest is CBOR envelope overhead.
const MaxMessageSize = 1024*1024 + 64*1024

// Request is a client message. Fields are populated per kind: begin
// carries session/user/location, chunk carries the payload (possibly
// empty — a zero-byte segment is valid), end carries the cancelled flag.
type Request struct {
	Kind      string  `cbor:"kind"`
	SessionID string  `cbor:"session_id,omitempty"`
	UserID    int64   `cbor:"user_id,omitempty"`
	Latitude  float64 `cbor:"latitude,omitempty"`
	Longitude float64 `cbor:"longitude,omitempty"`
	Payload   []byte  `cbor:"payload,omitempty"`
	Cancelled bool    `cbor:"cancelled,omitempty"`
}

// Reply is the server's response to one request.
type Reply struct {
	Kind      string `cbor:"kind"`
	SessionID string `cbor:"session_id,omitempty"`
	Index     int    `cbor:"index,omitempty"`
	Outcome   string `cbor:"outcome,omitempty"`
	Code      string `cbor:"code,omitempty"`
	Error     string `cbor:"error,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("gateway: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("gateway: CBOR decoder initialization failed: " + err.Error())
	}
}

// WriteMessage encodes v as CBOR and writes it with a 4-byte length prefix.
func WriteMessage(w io.Writer, v any) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed CBOR message and decodes it into v.
// Rejects messages larger than MaxMessageSize.
func ReadMessage(r io.Reader, v any) error {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("reading message body: %w", err)
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}
