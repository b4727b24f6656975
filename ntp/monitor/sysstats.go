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

package monitor

import (
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

var procStartTime = time.Now()

func sysDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "process", name), help, nil, nil)
}

// sysCollector reports process and go runtime stats on every scrape
type sysCollector struct {
	uptime     *prometheus.Desc
	cpuPct     *prometheus.Desc
	rss        *prometheus.Desc
	vms        *prometheus.Desc
	numFDs     *prometheus.Desc
	numThreads *prometheus.Desc
	goroutines *prometheus.Desc
	heapAlloc  *prometheus.Desc
	gcCount    *prometheus.Desc
}

func newSysCollector() *sysCollector {
	return &sysCollector{
		uptime:     sysDesc("uptime_seconds", "Seconds since process start"),
		cpuPct:     sysDesc("cpu_percent", "Process CPU usage"),
		rss:        sysDesc("rss_bytes", "Resident memory size"),
		vms:        sysDesc("vms_bytes", "Virtual memory size"),
		numFDs:     sysDesc("fds", "Open file descriptors"),
		numThreads: sysDesc("threads", "OS threads"),
		goroutines: sysDesc("goroutines", "Running goroutines"),
		heapAlloc:  sysDesc("heap_alloc_bytes", "Allocated heap"),
		gcCount:    sysDesc("gc_count", "Completed GC cycles"),
	}
}

// Describe implements prometheus.Collector
func (c *sysCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptime
	ch <- c.cpuPct
	ch <- c.rss
	ch <- c.vms
	ch <- c.numFDs
	ch <- c.numThreads
	ch <- c.goroutines
	ch <- c.heapAlloc
	ch <- c.gcCount
}

// Collect implements prometheus.Collector
func (c *sysCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	gauge(c.uptime, time.Since(procStartTime).Seconds())
	gauge(c.goroutines, float64(runtime.NumGoroutine()))
	gauge(c.heapAlloc, float64(m.HeapAlloc))
	gauge(c.gcCount, float64(m.NumGC))

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debugf("reading process stats: %v", err)
		return
	}
	if val, err := proc.Percent(0); err == nil {
		gauge(c.cpuPct, val)
	}
	if val, err := proc.MemoryInfo(); err == nil {
		gauge(c.rss, float64(val.RSS))
		gauge(c.vms, float64(val.VMS))
	}
	if val, err := proc.NumFDs(); err == nil {
		gauge(c.numFDs, float64(val))
	}
	if val, err := proc.NumThreads(); err == nil {
		gauge(c.numThreads, float64(val))
	}
}
