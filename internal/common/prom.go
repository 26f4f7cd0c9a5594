package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromCollectors are the scan collectors, registered on their own registry so
// several scans in one process do not collide.
type PromCollectors struct {
	Registry     *prometheus.Registry
	Packets      *prometheus.CounterVec
	DecodeErrors *prometheus.CounterVec
	Bytes        prometheus.Counter
	PacketWords  prometheus.Histogram
	ScanSeconds  prometheus.Gauge
}

func NewPromCollectors() *PromCollectors {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &PromCollectors{
		Registry: reg,
		Packets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vrtgate_packets_total",
			Help: "Decoded VRT packets by packet type.",
		}, []string{"type"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vrtgate_decode_errors_total",
			Help: "Rejected VRT packets by error kind.",
		}, []string{"kind"}),
		Bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "vrtgate_bytes_total",
			Help: "Bytes of decoded VRT packets.",
		}),
		PacketWords: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vrtgate_packet_words",
			Help:    "Declared packet size in 32-bit words.",
			Buckets: prometheus.ExponentialBuckets(4, 2, 15), // 4 to 65536 words
		}),
		ScanSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "vrtgate_scan_seconds",
			Help: "Wall-clock duration of the last scan.",
		}),
	}
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (p *PromCollectors) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.Registry)
}
