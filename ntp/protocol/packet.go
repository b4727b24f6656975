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

import "encoding/binary"

// PacketSizeBytes is the length of the fixed NTP header, without extensions
const PacketSizeBytes = 48

// Packet is the fixed part of an NTP message as laid out in RFC 5905 section 7.3.
// All multi-byte fields are big endian.
//
//	offset  size  field
//	0       1     LI (2 bits), VN (3 bits), Mode (3 bits)
//	1       1     Stratum
//	2       1     Poll, log2 seconds
//	3       1     Precision, log2 seconds
//	4       4     Root Delay, 16.16
//	8       4     Root Dispersion, 16.16
//	12      4     Reference ID
//	16      8     Reference Timestamp, 32.32
//	24      8     Origin Timestamp, 32.32
//	32      8     Receive Timestamp, 32.32
//	40      8     Transmit Timestamp, 32.32
//
// A v3 client request starts with 0x1B: no leap warning, version 3, mode 3.
type Packet struct {
	Settings       uint8
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      uint32
	RootDispersion uint32
	ReferenceID    uint32
	RefTimeSec     uint32
	RefTimeFrac    uint32
	OrigTimeSec    uint32
	OrigTimeFrac   uint32
	RxTimeSec      uint32
	RxTimeFrac     uint32
	TxTimeSec      uint32
	TxTimeFrac     uint32
}

// NTP modes we care about
const (
	ModeClient = 3
	ModeServer = 4
)

// Port is the well-known NTP server port
const Port = 123

// NewSettings packs leap indicator, version and mode into the first byte of the packet
func NewSettings(leap, version, mode uint8) uint8 {
	return (leap&0x3)<<6 | (version&0x7)<<3 | mode&0x7
}

// Leap returns leap indicator bits
func (p *Packet) Leap() uint8 {
	return p.Settings >> 6
}

// Version returns protocol version bits
func (p *Packet) Version() uint8 {
	return (p.Settings >> 3) & 0x7
}

// Mode returns mode bits
func (p *Packet) Mode() uint8 {
	return p.Settings & 0x7
}

// OriginTime returns origin timestamp (T1 as echoed by server)
func (p *Packet) OriginTime() Timestamp {
	return NewTimestampFromParts(p.OrigTimeSec, p.OrigTimeFrac)
}

// ReceiveTime returns server receive timestamp (T2)
func (p *Packet) ReceiveTime() Timestamp {
	return NewTimestampFromParts(p.RxTimeSec, p.RxTimeFrac)
}

// TransmitTime returns server transmit timestamp (T3)
func (p *Packet) TransmitTime() Timestamp {
	return NewTimestampFromParts(p.TxTimeSec, p.TxTimeFrac)
}

// ReferenceTime returns the time server clock was last set or corrected
func (p *Packet) ReferenceTime() Timestamp {
	return NewTimestampFromParts(p.RefTimeSec, p.RefTimeFrac)
}

// MarshalBinary converts Packet to []bytes
func (p *Packet) MarshalBinary() ([]byte, error) {
	b := make([]byte, PacketSizeBytes)
	b[0] = p.Settings
	b[1] = p.Stratum
	b[2] = byte(p.Poll)
	b[3] = byte(p.Precision)
	binary.BigEndian.PutUint32(b[4:], p.RootDelay)
	binary.BigEndian.PutUint32(b[8:], p.RootDispersion)
	binary.BigEndian.PutUint32(b[12:], p.ReferenceID)
	binary.BigEndian.PutUint32(b[16:], p.RefTimeSec)
	binary.BigEndian.PutUint32(b[20:], p.RefTimeFrac)
	binary.BigEndian.PutUint32(b[24:], p.OrigTimeSec)
	binary.BigEndian.PutUint32(b[28:], p.OrigTimeFrac)
	binary.BigEndian.PutUint32(b[32:], p.RxTimeSec)
	binary.BigEndian.PutUint32(b[36:], p.RxTimeFrac)
	binary.BigEndian.PutUint32(b[40:], p.TxTimeSec)
	binary.BigEndian.PutUint32(b[44:], p.TxTimeFrac)
	return b, nil
}

// UnmarshalBinary fills Packet from []bytes.
// Anything after the fixed header (extension fields, MAC) is ignored.
func (p *Packet) UnmarshalBinary(b []byte) error {
	if len(b) < PacketSizeBytes {
		return &DecodeError{Kind: Truncated, Length: len(b)}
	}
	p.Settings = b[0]
	p.Stratum = b[1]
	p.Poll = int8(b[2])
	p.Precision = int8(b[3])
	p.RootDelay = binary.BigEndian.Uint32(b[4:])
	p.RootDispersion = binary.BigEndian.Uint32(b[8:])
	p.ReferenceID = binary.BigEndian.Uint32(b[12:])
	p.RefTimeSec = binary.BigEndian.Uint32(b[16:])
	p.RefTimeFrac = binary.BigEndian.Uint32(b[20:])
	p.OrigTimeSec = binary.BigEndian.Uint32(b[24:])
	p.OrigTimeFrac = binary.BigEndian.Uint32(b[28:])
	p.RxTimeSec = binary.BigEndian.Uint32(b[32:])
	p.RxTimeFrac = binary.BigEndian.Uint32(b[36:])
	p.TxTimeSec = binary.BigEndian.Uint32(b[40:])
	p.TxTimeFrac = binary.BigEndian.Uint32(b[44:])
	return nil
}

// ParsePacket decodes the fixed header from b
func ParsePacket(b []byte) (*Packet, error) {
	p := new(Packet)
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}
