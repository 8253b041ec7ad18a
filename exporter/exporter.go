// Package exporter publishes the latest snapshot in the Prometheus text
// format. Metrics are read from the history ring at scrape time, so the
// exporter never samples on its own.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/storage"
)

const namespace = "sysmon"

// Source yields the most recent snapshot. *history.Ring implements it.
type Source interface {
	Latest() (collectors.Snapshot, bool)
}

// Collector is a prometheus.Collector over a Source.
type Collector struct {
	source Source
	stats  func() storage.WriterStats

	cpuPercent    *prometheus.Desc
	corePercent   *prometheus.Desc
	memUsed       *prometheus.Desc
	memTotal      *prometheus.Desc
	diskPercent   *prometheus.Desc
	rxRate        *prometheus.Desc
	txRate        *prometheus.Desc
	available     *prometheus.Desc
	sampleTime    *prometheus.Desc
	writes        *prometheus.Desc
	writeFailures *prometheus.Desc
	writesDropped *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector. stats may be nil when persistence is
// off, in which case the storage counters are not exported.
func NewCollector(src Source, stats func() storage.WriterStats) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		source:        src,
		stats:         stats,
		cpuPercent:    desc("cpu_percent", "Overall CPU utilisation in percent."),
		corePercent:   desc("cpu_core_percent", "Per-core CPU utilisation in percent.", "core"),
		memUsed:       desc("memory_used_bytes", "Used memory in bytes."),
		memTotal:      desc("memory_total_bytes", "Total memory in bytes."),
		diskPercent:   desc("disk_used_percent", "Disk usage per mount point in percent.", "mountpoint"),
		rxRate:        desc("network_rx_bytes_per_second", "Received bytes per second across selected interfaces."),
		txRate:        desc("network_tx_bytes_per_second", "Transmitted bytes per second across selected interfaces."),
		available:     desc("category_available", "1 if the metric category was read in the latest sample.", "category"),
		sampleTime:    desc("last_sample_timestamp_seconds", "Unix time of the latest sample."),
		writes:        desc("storage_writes_total", "Snapshots persisted to the history store."),
		writeFailures: desc("storage_write_failures_total", "Snapshots lost to failed history writes."),
		writesDropped: desc("storage_dropped_total", "Snapshots dropped from a full write queue."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.cpuPercent, c.corePercent, c.memUsed, c.memTotal, c.diskPercent,
		c.rxRate, c.txRate, c.available, c.sampleTime,
		c.writes, c.writeFailures, c.writesDropped,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		st := c.stats()
		ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(st.Written))
		ch <- prometheus.MustNewConstMetric(c.writeFailures, prometheus.CounterValue, float64(st.Failed))
		ch <- prometheus.MustNewConstMetric(c.writesDropped, prometheus.CounterValue, float64(st.Dropped))
	}

	snap, ok := c.source.Latest()
	if !ok {
		return
	}

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(c.sampleTime, float64(snap.Timestamp.UnixNano())/float64(time.Second))
	for _, cat := range collectors.AllCategories {
		v := 0.0
		if snap.Available(cat) {
			v = 1
		}
		gauge(c.available, v, string(cat))
	}

	if snap.CPU != nil {
		gauge(c.cpuPercent, snap.CPU.Percent)
		for i, p := range snap.CPU.PerCore {
			gauge(c.corePercent, p, strconv.Itoa(i))
		}
	}
	if snap.Memory != nil {
		gauge(c.memUsed, float64(snap.Memory.Used))
		gauge(c.memTotal, float64(snap.Memory.Total))
	}
	for _, d := range snap.Disks {
		gauge(c.diskPercent, d.Percent, d.Mountpoint)
	}
	if snap.Network != nil {
		gauge(c.rxRate, snap.Network.RxRate)
		gauge(c.txRate, snap.Network.TxRate)
	}
}

// Server serves /metrics on its own registry.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

// NewServer registers c and returns a server for addr.
func NewServer(addr string, c *Collector, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("exporter: register collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, `sysmon exporter: metrics at /metrics`)
	})

	return &Server{addr: addr, handler: mux, logger: logger}, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("exporter: listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("metrics exporter listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("exporter: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("exporter: shutdown: %w", err)
	}
	return nil
}
