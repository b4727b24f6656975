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
Package influx writes probe results to InfluxDB, one point per successful probe.
*/
package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"

	"github.com/globalprobe/ntpmon/ntp/probe"
)

// Measurement is the name all points are written under
const Measurement = "ntp_query_response"

// PointWriter is the part of blocking write API we use
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes successes as points
type Sink struct {
	writer PointWriter
	close  func()
}

// New creates Sink on top of existing writer
func New(writer PointWriter) *Sink {
	return &Sink{writer: writer, close: func() {}}
}

// Connect creates client for the server and its blocking write API
func Connect(url, token, org, bucket string) *Sink {
	client := influxdb2.NewClient(url, token)
	s := New(client.WriteAPIBlocking(org, bucket))
	s.close = client.Close
	log.Infof("writing results to influxdb %s, bucket %s/%s", url, org, bucket)
	return s
}

// Close releases client resources
func (s *Sink) Close() {
	s.close()
}

// NewPoint converts a successful probe into a point stamped with reply receive time
func NewPoint(site string, res *probe.Success) *write.Point {
	meta := res.Meta
	ts := res.Timestamps
	tags := map[string]string{
		"ntp_server_dns_name": res.Target.DNSName,
		"ntp_server_address":  res.Target.Address,
		"probe_site":          site,
		"ntp_ref_id":          meta.ReferenceIDString(),
	}
	if meta.ReferenceAddr != nil {
		tags["ntp_id"] = meta.ReferenceAddr.String()
	}
	fields := map[string]any{
		"leap_indicator":       int64(meta.Leap),
		"protocol_version":     int64(meta.Version),
		"protocol_mode":        int64(meta.Mode),
		"server_stratum":       int64(meta.Stratum),
		"server_poll":          int64(meta.Poll),
		"server_precision":     int64(meta.Precision),
		"root_delay":           meta.RootDelay,
		"root_dispersion":      meta.RootDispersion,
		"timestamp_reference":  meta.ReferenceTime.Seconds(),
		"timestamp_origin":     ts.Origin.Seconds(),
		"timestamp_receive":    ts.Receive.Seconds(),
		"timestamp_transmit":   ts.Transmit.Seconds(),
		"round_trip_time_secs": res.Delay,
		"utc_offset_secs":      res.Offset,
	}
	return write.NewPoint(Measurement, tags, fields, res.ReceivedAt.UTC())
}

// Write implements monitor.Sink. Timeouts and failures are not written.
func (s *Sink) Write(ctx context.Context, site string, results probe.Results) error {
	points := []*write.Point{}
	for _, addr := range results.Addresses() {
		res, ok := results[addr].(*probe.Success)
		if !ok {
			continue
		}
		points = append(points, NewPoint(site, res))
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("writing %d points: %w", len(points), err)
	}
	log.Infof("wrote %d points to influxdb", len(points))
	return nil
}
