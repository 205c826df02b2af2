// Command libtracy-vulture is a standalone reference collector: it
// listens for a libtracy agent's UDP announcements, connects to the
// advertised port, requests the tracepoint list, enables every
// tracepoint it finds, and counts the frames it receives. It mirrors
// cmd/tempo-vulture/main.go's shape (zap/zap-logfmt logging, a
// Prometheus /metrics endpoint) applied to the wire protocol instead of
// HTTP/gRPC.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

var (
	beaconListenAddr     string
	prometheusListenAddr string
	prometheusPath       string
	enableAllOnConnect   bool
	logger               *zap.Logger
)

var (
	metricBeaconsSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "libtracy_vulture",
		Name:      "beacons_seen_total",
		Help:      "total number of UDP announcements observed",
	})
	metricFramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "libtracy_vulture",
		Name:      "frames_received_total",
		Help:      "total number of frames received from a connected agent",
	})
)

func init() {
	flag.StringVar(&beaconListenAddr, "beacon-listen-addr", ":61454", "UDP address to listen for agent announcements on.")
	flag.StringVar(&prometheusListenAddr, "prometheus-listen-address", ":9091", "The address to listen on for Prometheus scrapes.")
	flag.StringVar(&prometheusPath, "prometheus-path", "/metrics", "The path to publish Prometheus metrics to.")
	flag.BoolVar(&enableAllOnConnect, "enable-all", true, "Enable every advertised tracepoint immediately on connect.")

	prometheus.MustRegister(metricBeaconsSeen, metricFramesReceived)
}

func main() {
	flag.Parse()

	config := zap.NewDevelopmentEncoderConfig()
	logger = zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(config),
		os.Stdout,
		zapcore.DebugLevel,
	))

	logger.Info("libtracy vulture starting", zap.String("beacon_addr", beaconListenAddr))

	go serveMetrics()

	port, err := waitForBeacon(beaconListenAddr)
	if err != nil {
		logger.Fatal("failed waiting for beacon", zap.Error(err))
	}

	if err := drainAgent(port); err != nil {
		logger.Fatal("agent session ended", zap.Error(err))
	}
}

func serveMetrics() {
	http.Handle(prometheusPath, promhttp.Handler())
	log.Fatal(http.ListenAndServe(prometheusListenAddr, nil))
}

// waitForBeacon blocks until a valid announcement datagram is received
// and returns the advertised agent port.
func waitForBeacon(addr string) (uint16, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return 0, err
		}
		if n < 4 || buf[0] != wire.MagicNumber[0] || buf[1] != wire.MagicNumber[1] || buf[2] != wire.MagicNumber[2] || buf[3] != wire.MagicNumber[3] {
			continue
		}
		var announcement struct {
			Port       uint16 `json:"port"`
			SequenceNr uint64 `json:"sequence_nr"`
			Hostname   string `json:"hostname"`
		}
		if err := json.Unmarshal(buf[4:n], &announcement); err != nil {
			continue
		}
		metricBeaconsSeen.Inc()
		logger.Info("observed announcement",
			zap.Uint16("port", announcement.Port),
			zap.Uint64("sequence_nr", announcement.SequenceNr),
			zap.String("hostname", announcement.Hostname))
		return announcement.Port, nil
	}
}

// drainAgent connects to the agent on port, requests and enables every
// tracepoint, then counts incoming TracePush frames until the connection
// closes.
func drainAgent(port uint16) error {
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("connected to agent", zap.Uint16("port", port))

	header := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(header, wire.TracepointListRequest, 0)
	if _, err := conn.Write(header); err != nil {
		return err
	}

	names, err := readTracepointList(conn)
	if err != nil {
		return err
	}
	logger.Info("received tracepoint list", zap.Strings("tracepoints", names))

	if enableAllOnConnect && len(names) > 0 {
		body := wire.EncodeTracepointList(names)
		frame := make([]byte, wire.HeaderLen+len(body))
		wire.EncodeHeader(frame, wire.TracepointEnableRequest, uint32(len(body)))
		copy(frame[wire.HeaderLen:], body)
		if _, err := conn.Write(frame); err != nil {
			return err
		}
	}

	for {
		hdr := make([]byte, wire.HeaderLen)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return err
		}
		length := binary.BigEndian.Uint32(hdr[8:12])
		body := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				return err
			}
		}
		events, err := wire.DecodeEvents(body)
		if err != nil {
			logger.Warn("failed to decode TracePush body", zap.Error(err))
			continue
		}
		metricFramesReceived.Inc()
		logger.Debug("received frame", zap.Int("events", len(events)))
	}
}

func readTracepointList(conn net.Conn) ([]string, error) {
	hdr := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[8:12])
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return nil, err
		}
	}
	return wire.DecodeTracepointNames(body)
}

