/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"time"
	"unicode/utf8"
)

// source ports we pick from for every request
const (
	MinSourcePort = 1024
	MaxSourcePort = 65535
)

// ErrUnsupportedVersion is returned when asked to build request for anything but v3 or v4
var ErrUnsupportedVersion = errors.New("unsupported ntp version")

// DecodeErrorKind says why reply could not be decoded
type DecodeErrorKind int

// Supported decode error kinds
const (
	Truncated DecodeErrorKind = iota
	Malformed
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// Sentinels to match DecodeError with errors.Is
var (
	ErrTruncated = &DecodeError{Kind: Truncated}
	ErrMalformed = &DecodeError{Kind: Malformed}
)

// DecodeError is returned when reply can't be turned into timestamps
type DecodeError struct {
	Kind   DecodeErrorKind
	Length int
	Mode   uint8
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case Truncated:
		return fmt.Sprintf("truncated ntp packet: got %d bytes, need at least %d", e.Length, PacketSizeBytes)
	case Malformed:
		return fmt.Sprintf("malformed ntp packet: mode %d is not server mode", e.Mode)
	}
	return "bad ntp packet"
}

// Is makes errors.Is match on kind only
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Request is a client request ready to be sent
type Request struct {
	Packet  Packet
	SrcPort int
	DstPort int
}

// EncodeRequest builds client mode request for NTP version 3 or 4.
// All timestamps are zero, transmit timestamp is set by Stamp right before sending.
func EncodeRequest(version uint8) (*Request, error) {
	if version != 3 && version != 4 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return &Request{
		Packet: Packet{
			Settings: NewSettings(0, version, ModeClient),
		},
		SrcPort: MinSourcePort + rand.IntN(MaxSourcePort-MinSourcePort+1),
		DstPort: Port,
	}, nil
}

// Stamp sets transmit timestamp of the request and returns it
func (r *Request) Stamp(t time.Time) Timestamp {
	ts := NewTimestamp(t)
	r.Packet.TxTimeSec, r.Packet.TxTimeFrac = ts.Parts()
	return ts
}

// Bytes returns wire representation of the request
func (r *Request) Bytes() ([]byte, error) {
	return r.Packet.MarshalBinary()
}

// PacketMeta is everything from server reply header which is not a timestamp we need for the math
type PacketMeta struct {
	Leap           uint8
	Version        uint8
	Mode           uint8
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      float64 // seconds
	RootDispersion float64 // seconds
	ReferenceID    [4]byte
	// ReferenceIDText is set for stratum 0 and 1 when reference id is a valid clock source code
	ReferenceIDText *string
	// ReferenceAddr is set for stratum 2 and above, where reference id is an upstream IPv4 address (or IPv6 hash)
	ReferenceAddr *netip.Addr
	ReferenceTime Timestamp
}

// ReferenceIDString renders reference id for display
func (m *PacketMeta) ReferenceIDString() string {
	if m.ReferenceIDText != nil {
		return *m.ReferenceIDText
	}
	if m.ReferenceAddr != nil {
		return m.ReferenceAddr.String()
	}
	return fmt.Sprintf("0x%08x", binary.BigEndian.Uint32(m.ReferenceID[:]))
}

// DecodeReply parses server reply into exchange timestamps and header details.
// Destination timestamp is left for the caller to fill in.
func DecodeReply(b []byte) (*Timestamps, *PacketMeta, error) {
	p, err := ParsePacket(b)
	if err != nil {
		return nil, nil, err
	}
	if p.Mode() != ModeServer {
		return nil, nil, &DecodeError{Kind: Malformed, Length: len(b), Mode: p.Mode()}
	}
	ts := &Timestamps{
		Origin:   p.OriginTime(),
		Receive:  p.ReceiveTime(),
		Transmit: p.TransmitTime(),
	}
	meta := &PacketMeta{
		Leap:           p.Leap(),
		Version:        p.Version(),
		Mode:           p.Mode(),
		Stratum:        p.Stratum,
		Poll:           p.Poll,
		Precision:      SignedPrecision(b[3]),
		RootDelay:      shortToSeconds(p.RootDelay),
		RootDispersion: shortToSeconds(p.RootDispersion),
		ReferenceTime:  p.ReferenceTime(),
	}
	binary.BigEndian.PutUint32(meta.ReferenceID[:], p.ReferenceID)
	if p.Stratum <= 1 {
		meta.ReferenceIDText = referenceText(meta.ReferenceID)
	} else {
		addr := netip.AddrFrom4(meta.ReferenceID)
		meta.ReferenceAddr = &addr
	}
	return ts, meta, nil
}

// SignedPrecision reinterprets precision byte as two's complement
func SignedPrecision(b byte) int8 {
	v := int(b)
	if v > 127 {
		v -= 256
	}
	return int8(v)
}

// referenceText tries to decode clock source code like GPS or PPS.
// Failure here is not an error, we just don't have text.
func referenceText(id [4]byte) *string {
	raw := bytes.TrimRight(id[:], "\x00")
	if len(raw) == 0 || !utf8.Valid(raw) {
		return nil
	}
	s := string(raw)
	return &s
}
