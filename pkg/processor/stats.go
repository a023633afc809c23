package processor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the observable state shown to display consumers.
type Snapshot struct {
	PacketCount         int64  `json:"packetCount"`
	LastPacketTimestamp int64  `json:"lastPacketTimestamp"`
	LastSummary         string `json:"lastSummary"`
}

// Stats holds the process-wide packet counters. Subscribers always get the
// latest snapshot; intermediate ones are dropped for slow readers.
type Stats struct {
	mu          sync.Mutex
	snapshot    Snapshot
	subscribers map[int]chan Snapshot
	nextID      int

	packets    prometheus.Counter
	readings   *prometheus.CounterVec
	falls      prometheus.Counter
	failures   *prometheus.CounterVec
	lastPacket prometheus.Gauge
}

func NewStats() *Stats {
	return &Stats{
		subscribers: map[int]chan Snapshot{},
		packets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posture_packets_persisted_total",
			Help: "Packets written to the local store",
		}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posture_readings_total",
			Help: "Packet items by validation result",
		}, []string{"result"}),
		falls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posture_fall_alerts_total",
			Help: "Fall alerts raised",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posture_processing_failures_total",
			Help: "Packet processing failures by stage",
		}, []string{"stage"}),
		lastPacket: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posture_last_packet_timestamp_milliseconds",
			Help: "Capture time of the last persisted packet",
		}),
	}
}

func (s *Stats) Register(registerer prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{s.packets, s.readings, s.falls, s.failures, s.lastPacket} {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe returns a channel receiving every new snapshot and a function
// that ends the subscription.
func (s *Stats) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot, 1)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

func (s *Stats) recordPacket(timestamp int64, messages int, counts []sensorCount) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.PacketCount++
	s.snapshot.LastPacketTimestamp = timestamp
	s.snapshot.LastSummary = summarize(s.snapshot.PacketCount, messages, counts)
	s.packets.Inc()
	s.lastPacket.Set(float64(timestamp))

	for _, ch := range s.subscribers {
		select {
		case ch <- s.snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s.snapshot
		}
	}
	return s.snapshot
}

func (s *Stats) recordReadings(valid, invalid int) {
	s.readings.WithLabelValues("valid").Add(float64(valid))
	s.readings.WithLabelValues("invalid").Add(float64(invalid))
}

func (s *Stats) recordFall() {
	s.falls.Inc()
}

func (s *Stats) recordFailure(stage string) {
	s.failures.WithLabelValues(stage).Inc()
}

// summarize renders "Packet #N: M messages [id:count id:count ]".
func summarize(packetNumber int64, messages int, counts []sensorCount) string {
	var summary strings.Builder
	fmt.Fprintf(&summary, "Packet #%d: %d messages [", packetNumber, messages)
	for _, c := range counts {
		fmt.Fprintf(&summary, "%s:%d ", c.sensorID, c.count)
	}
	summary.WriteString("]")
	return summary.String()
}
