package session

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
)

// wireEnvelope is the length-prefixed, gob-encoded frame used between
// sessions. The real RLPx framing/codec is an external collaborator
// (spec.md §1); this is the minimal concrete stand-in needed to make
// the session task runnable and testable, adapted from the teacher's
// Message.Serialize/DeserializeMessage and its 4-byte big-endian
// length prefix (internal/p2p/message.go, internal/p2p/server.go).
type wireEnvelope struct {
	Kind byte
	Data []byte
}

const (
	wireHello byte = iota
	wirePayload
)

func writeFrame(conn net.Conn, env wireEnvelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("session: encode frame: %w", err)
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(buf.Len()))
	w := bufio.NewWriter(conn)
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return w.Flush()
}

func readFrame(r io.Reader) (wireEnvelope, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return wireEnvelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return wireEnvelope{}, err
	}
	var env wireEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return wireEnvelope{}, fmt.Errorf("session: decode frame: %w", err)
	}
	return env, nil
}
