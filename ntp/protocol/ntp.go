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

/*
Package protocol implements ntp packet and basic functions to work with.
It provides quick and transparent translation between 48 bytes and
simply accessible struct, plus the client side offset and delay math.
*/
package protocol

import (
	"math"
	"time"
)

// SecondsToUnix is the difference between NTP and Unix epoch in seconds
const SecondsToUnix = int64(2208988800)

// NanosecondsToUnix is the difference between NTP and Unix epoch in NS
const NanosecondsToUnix = SecondsToUnix * int64(time.Second)

// fracPerSecond is 2^32, the resolution of the fractional part
const fracPerSecond = float64(1 << 32)

// Time is converting Unix time to sec and frac NTP format
func Time(t time.Time) (seconds uint32, fractions uint32) {
	nsec := t.UnixNano() + NanosecondsToUnix
	sec := nsec / time.Second.Nanoseconds()
	return uint32(sec), uint32((nsec - sec*time.Second.Nanoseconds()) << 32 / time.Second.Nanoseconds())
}

// Unix is converting NTP seconds and fractions into Unix time
func Unix(seconds, fractions uint32) time.Time {
	secs := int64(seconds) - SecondsToUnix
	nanos := (int64(fractions) * time.Second.Nanoseconds()) >> 32 // convert fractional to nanos
	return time.Unix(secs, nanos)
}

// Timestamp is a 64-bit NTP timestamp: 32 bits of seconds since 1900 and 32 bits of fraction
type Timestamp uint64

// NewTimestamp converts wall clock time into NTP Timestamp
func NewTimestamp(t time.Time) Timestamp {
	sec, frac := Time(t)
	return NewTimestampFromParts(sec, frac)
}

// NewTimestampFromParts builds Timestamp from seconds and fraction halves
func NewTimestampFromParts(seconds, fractions uint32) Timestamp {
	return Timestamp(uint64(seconds)<<32 | uint64(fractions))
}

// Parts returns seconds and fraction halves
func (t Timestamp) Parts() (seconds uint32, fractions uint32) {
	return uint32(t >> 32), uint32(t)
}

// Time converts Timestamp back into wall clock time
func (t Timestamp) Time() time.Time {
	return Unix(t.Parts())
}

// Seconds returns Timestamp as floating seconds since NTP epoch
func (t Timestamp) Seconds() float64 {
	sec, frac := t.Parts()
	return float64(sec) + float64(frac)/fracPerSecond
}

// Sub returns t-u rounded to the nearest nanosecond.
// Difference is taken in signed fixed point so era rollover doesn't matter
// as long as both timestamps are within 68 years of each other.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	d := int64(t - u)
	sec := d >> 32
	frac := d & 0xFFFFFFFF
	return time.Duration(sec*time.Second.Nanoseconds() + (frac*time.Second.Nanoseconds()+1<<31)>>32)
}

// Timestamps are the four timestamps of a client/server exchange
type Timestamps struct {
	Origin      Timestamp // T1, client send time echoed by server
	Receive     Timestamp // T2, server receive time
	Transmit    Timestamp // T3, server send time
	Destination Timestamp // T4, client receive time, always local
}

// TruncateMicroseconds drops everything below microsecond resolution.
// It truncates towards zero rather than rounding.
func TruncateMicroseconds(v float64) float64 {
	return math.Trunc(v*1e6) / 1e6
}

// microseconds converts d into seconds, dropping everything below a microsecond
func microseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1e6
}

// Offset calculates clock offset in seconds using formula from RFC 5905:
// ((T2 - T1) + (T3 - T4)) / 2
func Offset(ts *Timestamps) float64 {
	return microseconds((ts.Receive.Sub(ts.Origin) + ts.Transmit.Sub(ts.Destination)) / 2)
}

// Delay calculates round trip delay in seconds using formula from RFC 5905:
// (T4 - T1) - (T3 - T2)
func Delay(ts *Timestamps) float64 {
	return microseconds(ts.Destination.Sub(ts.Origin) - ts.Transmit.Sub(ts.Receive))
}

// OffsetDelay returns both offset and delay
func OffsetDelay(ts *Timestamps) (offset float64, delay float64) {
	return Offset(ts), Delay(ts)
}

// shortToSeconds converts 16.16 fixed point (root delay, root dispersion) to seconds
func shortToSeconds(v uint32) float64 {
	return TruncateMicroseconds(float64(v) / (1 << 16))
}
