package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goburrow/serial"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/logging"
	"github.com/sirupsen/logrus"
)

var postures = []entities.PostureCategory{
	entities.Standing,
	entities.Sitting,
	entities.Walking,
	entities.UnusedFootwear,
}

type simulator struct {
	sensors  int
	interval time.Duration
	fallRate float64
	garbage  float64
	random   *rand.Rand
	mu       sync.Mutex
	log      *logrus.Entry
}

func main() {
	mode := flag.String("mode", entities.TransportTCP, "Output transport: tcp or serial")
	listen := flag.String("listen", "127.0.0.1:7070", "TCP address to accept gateway connections on")
	port := flag.String("port", "/dev/ttyUSB0", "Serial port to write to")
	baudRate := flag.Int("baud", 9600, "Serial baud rate")
	sensors := flag.Int("sensors", 3, "Number of simulated insoles")
	interval := flag.Duration("interval", 2*time.Second, "Interval between packets")
	fallRate := flag.Float64("fall-rate", 0.05, "Probability that a reading reports a fall")
	garbage := flag.Float64("garbage-rate", 0, "Probability of emitting a malformed line")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if *sensors <= 0 {
		log.Fatal("sensors must be positive")
	}

	sim := &simulator{
		sensors:  *sensors,
		interval: *interval,
		fallRate: *fallRate,
		garbage:  *garbage,
		random:   rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      logging.NewLogrus(*level, os.Stdout).Get("InsoleSimulator"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch *mode {
	case entities.TransportTCP:
		err = sim.serveTCP(ctx, *listen)
	case entities.TransportSerial:
		err = sim.writeSerial(ctx, *port, *baudRate)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		sim.log.Fatal(err)
	}
}

func (s *simulator) serveTCP(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.log.Infof("Waiting for gateways on %s", address)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.log.Infof("Gateway connected from %s", conn.RemoteAddr())
		go func() {
			defer conn.Close()
			if err := s.stream(ctx, conn); err != nil {
				s.log.WithError(err).Info("Gateway disconnected")
			}
		}()
	}
}

func (s *simulator) writeSerial(ctx context.Context, address string, baudRate int) error {
	port, err := serial.Open(&serial.Config{
		Address:  address,
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
	})
	if err != nil {
		return err
	}
	defer port.Close()
	s.log.Infof("Writing packets to %s", address)
	return s.stream(ctx, port)
}

func (s *simulator) stream(ctx context.Context, out io.Writer) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := io.WriteString(out, s.packet()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// packet renders one reading per sensor followed by the terminator.
func (s *simulator) packet() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var packet strings.Builder
	for i := 1; i <= s.sensors; i++ {
		if s.random.Float64() < s.garbage {
			packet.WriteString("garbage-without-delimiter\r\n")
		}
		posture := postures[s.random.Intn(len(postures))]
		if s.random.Float64() < s.fallRate {
			posture = entities.Falling
		}
		fmt.Fprintf(&packet, "sensor%03d%s%s\r\n", i, entities.SensorIDDelimiter, posture.HexCode())
		s.log.Debugf("sensor%03d: %s", i, posture)
	}
	packet.WriteString(entities.PacketTerminator + "\r\n")
	return packet.String()
}
