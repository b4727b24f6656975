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

package probe

import (
	"fmt"
	"math"
	"net/netip"
	"time"

	ntp "github.com/globalprobe/ntpmon/ntp/protocol"
)

// Target is a single server address we measure against
type Target struct {
	Address string
	OwnerID string
	DNSName string
	// ServerAddressID is opaque to the prober, relational sink keys rows by it
	ServerAddressID *int64
}

// AddrPort parses target address. Address family comes from the address itself.
func (t Target) AddrPort(port int) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(t.Address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parsing target address %q: %w", t.Address, err)
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}

func (t Target) String() string {
	if t.DNSName == "" {
		return t.Address
	}
	return fmt.Sprintf("%s (%s)", t.DNSName, t.Address)
}

// Kind tells which Outcome variant we have
type Kind int

// Outcome kinds
const (
	KindSuccess Kind = iota
	KindTimeout
	KindFailure
)

var kindToString = map[Kind]string{
	KindSuccess: "success",
	KindTimeout: "timeout",
	KindFailure: "failure",
}

func (k Kind) String() string {
	return kindToString[k]
}

// Outcome is the result of probing a single target.
// It is one of *Success, *Timeout or *Failure.
type Outcome interface {
	Kind() Kind
	Sent() time.Time
	isOutcome()
}

// Success is a measurement built from a valid server reply
type Success struct {
	Target     Target
	SentAt     time.Time
	ReceivedAt time.Time
	// Offset and Delay are in seconds, truncated to microseconds
	Offset     float64
	Delay      float64
	Timestamps ntp.Timestamps
	Meta       ntp.PacketMeta
}

// Kind implements Outcome
func (*Success) Kind() Kind { return KindSuccess }

// Sent implements Outcome
func (s *Success) Sent() time.Time { return s.SentAt }

func (*Success) isOutcome() {}

// OffsetDuration returns offset as time.Duration
func (s *Success) OffsetDuration() time.Duration {
	return time.Duration(math.Round(s.Offset * float64(time.Second)))
}

// DelayDuration returns delay as time.Duration
func (s *Success) DelayDuration() time.Duration {
	return time.Duration(math.Round(s.Delay * float64(time.Second)))
}

// Timeout means no reply arrived after all attempts
type Timeout struct {
	Target   Target
	SentAt   time.Time
	FailedAt time.Time
	Attempts int
}

// Kind implements Outcome
func (*Timeout) Kind() Kind { return KindTimeout }

// Sent implements Outcome
func (t *Timeout) Sent() time.Time { return t.SentAt }

func (*Timeout) isOutcome() {}

// Failure means the probe produced no usable reply for a reason other than silence:
// reply could not be decoded, address is invalid, socket failed.
type Failure struct {
	Target   Target
	SentAt   time.Time
	FailedAt time.Time
	Err      error
}

// Kind implements Outcome
func (*Failure) Kind() Kind { return KindFailure }

// Sent implements Outcome
func (f *Failure) Sent() time.Time { return f.SentAt }

func (*Failure) isOutcome() {}

func (f *Failure) Error() string {
	return fmt.Sprintf("probing %s: %v", f.Target, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
