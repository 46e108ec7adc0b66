// Package datatype defines the contract every data item flowing through a
// processing graph must satisfy: clearing, serialization, and description
// for the formats a sink or control-plane client can ask for.
package datatype

import (
	"bytes"
	"encoding/gob"
	"errors"
	"hash/crc32"
	"time"
)

// Format selects how much of a data item Serialize writes out.
type Format int

const (
	// FULL serializes the header and the full payload.
	FULL Format = iota
	// COMPACT serializes the payload only, omitting redundant header fields
	// a stream already pins (timestamp deltas, fixed serial stride).
	COMPACT
	// HEADERONLY serializes the header with an empty payload, used for
	// heartbeats and control-plane probes.
	HEADERONLY
	// STREAMHEADER serializes the StreamInfo describing a port's data
	// rather than any one item; sent once at connection time.
	STREAMHEADER
	// NONE performs no serialization; Serialize returns nil, nil.
	NONE
)

func (f Format) String() string {
	switch f {
	case FULL:
		return "FULL"
	case COMPACT:
		return "COMPACT"
	case HEADERONLY:
		return "HEADERONLY"
	case STREAMHEADER:
		return "STREAMHEADER"
	case NONE:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ErrBadFrame is returned by Unframe when the CRC32 trailer of a frame
// does not match its payload, or the frame is too short to carry one — the
// frame was truncated or corrupted.
var ErrBadFrame = errors.New("datatype: frame failed checksum")

// Header carries the bookkeeping every data item needs regardless of its
// payload type: when it was produced and its position in the stream
// (spec §4.8).
type Header struct {
	// SourceTimestamp is monotonic nanoseconds at production time, stamped
	// by domain code before Publish.
	SourceTimestamp time.Time
	// HardwareTimestamp is microseconds reported by the acquisition
	// device itself, independent of this process's clock.
	HardwareTimestamp uint64
	// SerialNum is the item's logical identity within its output slot's
	// producer serial sequence; the runtime stamps it on Claim, never
	// domain code.
	SerialNum uint64
	// EndOfStream marks the final item a producer will ever publish on
	// this slot, for sinks that need to flush on a clean stream end
	// rather than only on Terminate.
	EndOfStream bool
	SourceName  string
}

// Item is the contract a concrete payload type implements to flow through a
// port. Clear resets a pooled instance for reuse by the next publish;
// Serialize/Deserialize frame the item for a sink or network peer;
// Describe renders a short human string for logs and the control plane.
type Item interface {
	ClearData()
	Header() Header
	SetHeader(Header)
	Serialize(format Format) ([]byte, error)
	Deserialize(format Format, data []byte) error
	Describe() string
}

// Frame writes an Item using the gob+CRC32 envelope every sink in this
// runtime shares: a gob record of the header and payload followed by a
// 4-byte big-endian CRC32 checksum of that record, so a truncated write is
// detected on read rather than silently corrupting the next frame.
func Frame(header Header, payload any) ([]byte, error) {
	var body bytes.Buffer
	enc := gob.NewEncoder(&body)
	if err := enc.Encode(header); err != nil {
		return nil, err
	}
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}

	sum := crc32.ChecksumIEEE(body.Bytes())

	var out bytes.Buffer
	out.Write(body.Bytes())
	var sumBuf [4]byte
	sumBuf[0] = byte(sum >> 24)
	sumBuf[1] = byte(sum >> 16)
	sumBuf[2] = byte(sum >> 8)
	sumBuf[3] = byte(sum)
	out.Write(sumBuf[:])
	return out.Bytes(), nil
}

// Unframe reverses Frame, validating the CRC32 trailer before decoding.
func Unframe(data []byte, header *Header, payload any) error {
	if len(data) < 4 {
		return ErrBadFrame
	}
	body := data[:len(data)-4]
	trailer := data[len(data)-4:]
	want := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	if crc32.ChecksumIEEE(body) != want {
		return ErrBadFrame
	}

	dec := gob.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(header); err != nil {
		return err
	}
	return dec.Decode(payload)
}
