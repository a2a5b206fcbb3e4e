package diagnostics

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func TestCaptureRejectWritesReadableFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rejects.pcap")

	w, err := NewRejectPCAPWriter(path, 10, 2, 2056)
	if err != nil {
		t.Fatalf("NewRejectPCAPWriter: %v", err)
	}
	defer w.Close()

	router := net.IPv4(192, 0, 2, 1).To4()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	if err := w.CaptureReject(router, payload); err != nil {
		t.Fatalf("CaptureReject: %v", err)
	}
	w.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	data, _, err := r.ReadPacketData()
	if err != nil {
		t.Fatalf("ReadPacketData: %v", err)
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		t.Fatal("no IPv4 layer in captured frame")
	}
	ip := ipLayer.(*layers.IPv4)
	if !ip.SrcIP.Equal(net.IP(router)) {
		t.Errorf("SrcIP = %v, want %v", ip.SrcIP, net.IP(router))
	}

	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		t.Fatal("no UDP layer in captured frame")
	}
	udp := udpLayer.(*layers.UDP)
	if int(udp.DstPort) != 2056 {
		t.Errorf("DstPort = %d, want 2056", udp.DstPort)
	}
	if string(udp.Payload) != string(payload) {
		t.Errorf("payload = %x, want %x", udp.Payload, payload)
	}
}

// TestRotationOnSize confirms a tiny max size rotates to a numbered backup
// on the next capture.
func TestRotationOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rejects.pcap")

	w, err := NewRejectPCAPWriter(path, 0, 1, 2056)
	if err != nil {
		t.Fatalf("NewRejectPCAPWriter: %v", err)
	}
	defer w.Close()
	w.maxSizeMB = 0

	router := net.IPv4(192, 0, 2, 1).To4()
	if err := w.CaptureReject(router, []byte{1, 2, 3}); err != nil {
		t.Fatalf("CaptureReject 1: %v", err)
	}

	// Force rotation by setting bytesWritten artificially high relative to
	// a nonzero maxSizeMB threshold.
	w.maxSizeMB = 1
	w.bytesWritten = int64(2) * 1024 * 1024

	if err := w.CaptureReject(router, []byte{4, 5, 6}); err != nil {
		t.Fatalf("CaptureReject 2: %v", err)
	}
	w.Close()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}
