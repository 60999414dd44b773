// Package ipc implements the local wire protocol of spec.md §6: a
// 4-byte big-endian length prefix followed by a UTF-8 JSON payload, and
// a small tagged-union of message kinds (Capture, Query, Status,
// Shutdown) exchanged over a local Unix domain socket.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/neur0map/yinx/internal/errs"
)

// maxFrameSize bounds a single frame to guard against a malformed or
// hostile peer claiming an unbounded length prefix.
const maxFrameSize = 64 << 20 // 64MiB, matching storage.max_blob_size's default order of magnitude

// WriteFrame writes payload as one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return errs.ConfigInvalidf("ipc.WriteFrame", "frame of %d bytes exceeds max %d", len(payload), maxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return errs.Wrap(errs.Transient, "ipc.WriteFrame", err)
	}
	if _, err := w.Write(payload); err != nil {
		return errs.Wrap(errs.Transient, "ipc.WriteFrame", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errs.Wrap(errs.Transient, "ipc.ReadFrame", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, errs.Corruptionf("ipc.ReadFrame", "frame length %d exceeds max %d", n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errs.Wrap(errs.Transient, "ipc.ReadFrame", err)
	}
	return payload, nil
}

// EncodeMessage marshals v and writes it as one frame.
func EncodeMessage(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.ConfigInvalid, "ipc.EncodeMessage", err)
	}
	return WriteFrame(w, b)
}

// DecodeMessage reads one frame and unmarshals it into v.
func DecodeMessage(r *bufio.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errs.Wrap(errs.Corruption, "ipc.DecodeMessage", err)
	}
	return nil
}
