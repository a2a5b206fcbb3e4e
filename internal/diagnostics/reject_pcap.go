// Package diagnostics captures datagrams the decoder rejects into a
// standard PCAP file, so malformed-input incidents can be inspected with
// ordinary packet tools after the fact. It is adapted from the tzsp PCAP
// sink's size-based rotation, repurposed here to wrap raw rejected UDP
// payloads in a synthetic Ethernet/IPv4/UDP frame since, unlike the
// original sink's already-encapsulated packets, our input has no link-layer
// framing of its own to preserve.
package diagnostics

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// RejectPCAPWriter wraps rejected NetFlow v5 datagrams in a synthetic
// Ethernet/IPv4/UDP frame and appends them to a size-rotated PCAP file.
type RejectPCAPWriter struct {
	filename   string
	maxSizeMB  int
	maxBackups int
	port       int

	mu           sync.Mutex
	file         *os.File
	writer       *pcapgo.Writer
	bytesWritten int64
}

// NewRejectPCAPWriter creates a PCAP sink rooted at filename, rotating to
// numbered backups once bytesWritten exceeds maxSizeMB. port is used as the
// synthetic UDP destination port recorded in each captured frame.
func NewRejectPCAPWriter(filename string, maxSizeMB, maxBackups, port int) (*RejectPCAPWriter, error) {
	w := &RejectPCAPWriter{
		filename:   filename,
		maxSizeMB:  maxSizeMB,
		maxBackups: maxBackups,
		port:       port,
	}

	if err := w.rotate(); err != nil {
		return nil, err
	}

	return w, nil
}

// CaptureReject synthesizes an Ethernet/IPv4/UDP frame around data (the raw,
// rejected datagram payload as received from router) and appends it. It
// satisfies writer.RejectSink.
func (w *RejectPCAPWriter) CaptureReject(router []byte, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSizeMB > 0 && w.bytesWritten > int64(w.maxSizeMB)*1024*1024 {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotate reject pcap: %w", err)
		}
	}

	frame, err := synthesizeFrame(net.IP(router), w.port, data)
	if err != nil {
		return fmt.Errorf("synthesize frame: %w", err)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.writer.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}

	w.bytesWritten += int64(len(frame))
	return nil
}

// Close closes the underlying PCAP file.
func (w *RejectPCAPWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *RejectPCAPWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	if w.maxBackups > 0 {
		for i := w.maxBackups - 1; i >= 0; i-- {
			oldName := w.backupName(i)
			newName := w.backupName(i + 1)

			if _, err := os.Stat(oldName); err == nil {
				if i == w.maxBackups-1 {
					os.Remove(oldName)
				} else {
					os.Rename(oldName, newName)
				}
			}
		}

		if _, err := os.Stat(w.filename); err == nil {
			os.Rename(w.filename, w.backupName(0))
		}
	}

	f, err := os.Create(w.filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.filename, err)
	}

	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("write pcap header: %w", err)
	}

	w.file = f
	w.writer = writer
	w.bytesWritten = 0

	return nil
}

func (w *RejectPCAPWriter) backupName(index int) string {
	if index == 0 {
		return w.filename + ".1"
	}
	return fmt.Sprintf("%s.%d", w.filename, index+1)
}

// synthesizeFrame wraps payload as if it had arrived over Ethernet from
// router to 0.0.0.0:port, purely so standard PCAP tooling can display it;
// MAC addresses and the source port are placeholders.
func synthesizeFrame(router net.IP, port int, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 0},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    router,
		DstIP:    net.IPv4zero,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(0),
		DstPort: layers.UDPPort(port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
