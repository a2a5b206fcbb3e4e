package decoder

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/netflowd/netflowd/internal/cflowd"
	"github.com/netflowd/netflowd/internal/seqtracker"
)

// buildDatagram assembles a NetFlow v5 datagram from a header and a list of
// raw 48-byte flow records, mirroring the wire shapes in cflowd/wire.go.
func buildDatagram(version, count uint16, uptime, unixSecs, flowSeq uint32, records [][]byte) []byte {
	buf := make([]byte, cflowd.HeaderSize+len(records)*cflowd.RecordSize)
	binary.BigEndian.PutUint16(buf[0:2], version)
	binary.BigEndian.PutUint16(buf[2:4], count)
	binary.BigEndian.PutUint32(buf[4:8], uptime)
	binary.BigEndian.PutUint32(buf[8:12], unixSecs)
	binary.BigEndian.PutUint32(buf[12:16], 0) // unix_nsecs, unused
	binary.BigEndian.PutUint32(buf[16:20], flowSeq)
	binary.BigEndian.PutUint16(buf[20:22], 0) // engine type/id, unused
	binary.BigEndian.PutUint16(buf[22:24], 0) // sampling interval, unused

	for i, r := range records {
		copy(buf[cflowd.HeaderSize+i*cflowd.RecordSize:], r)
	}
	return buf
}

// buildRecord assembles one 48-byte NetFlow v5 flow record.
func buildRecord(srcIP, dstIP, nextHop uint32, inIf, outIf uint16, pkts, bytes_, start, end uint32, srcPort, dstPort uint16, tcpFlags, protocol, tos byte, srcAs, dstAs uint16, srcMask, dstMask byte) []byte {
	r := make([]byte, cflowd.RecordSize)
	binary.BigEndian.PutUint32(r[0:4], srcIP)
	binary.BigEndian.PutUint32(r[4:8], dstIP)
	binary.BigEndian.PutUint32(r[8:12], nextHop)
	binary.BigEndian.PutUint16(r[12:14], inIf)
	binary.BigEndian.PutUint16(r[14:16], outIf)
	binary.BigEndian.PutUint32(r[16:20], pkts)
	binary.BigEndian.PutUint32(r[20:24], bytes_)
	binary.BigEndian.PutUint32(r[24:28], start)
	binary.BigEndian.PutUint32(r[28:32], end)
	binary.BigEndian.PutUint16(r[32:34], srcPort)
	binary.BigEndian.PutUint16(r[34:36], dstPort)
	r[36] = 0 // pad1
	r[37] = tcpFlags
	r[38] = protocol
	r[39] = tos
	binary.BigEndian.PutUint16(r[40:42], srcAs)
	binary.BigEndian.PutUint16(r[42:44], dstAs)
	r[44] = srcMask
	r[45] = dstMask
	binary.BigEndian.PutUint16(r[46:48], 0) // pad2
	return r
}

// TestDecodeScenarioS1 reproduces spec.md §8 Scenario S1: a single-record
// datagram with a known uptime/unix_secs combination, checked against the
// exact expected index/startTime/endTime.
func TestDecodeScenarioS1(t *testing.T) {
	rec := buildRecord(
		0x0A000001, 0x0A000002, 0x0A0000FE,
		1, 2,
		10, 1500,
		5000, 8000,
		1234, 80,
		0x02, 6, 0,
		100, 200,
		24, 16,
	)
	dg := buildDatagram(5, 1, 10000, 1000000000, 7, [][]byte{rec})

	d := New(seqtracker.New(0))
	out, dropped, err := d.Decode(dg, len(dg), net.ParseIP("192.0.2.1"), false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0 (drop detection disabled)", dropped)
	}
	if len(out) != cflowd.CflowdRecordSize {
		t.Fatalf("len(out) = %d, want %d", len(out), cflowd.CflowdRecordSize)
	}

	index := binary.NativeEndian.Uint32(out[0:4])
	startTime := binary.NativeEndian.Uint32(out[36:40])
	endTime := binary.NativeEndian.Uint32(out[40:44])

	if index != 7 {
		t.Errorf("index = %d, want 7", index)
	}
	if startTime != 999999995 {
		t.Errorf("startTime = %d, want 999999995", startTime)
	}
	if endTime != 999999998 {
		t.Errorf("endTime = %d, want 999999998", endTime)
	}
}

// TestDecodeFieldRoundTrip (property R1) checks that every field in a
// decoded cflowd record matches the corresponding wire field byte-for-byte,
// not just the timestamp fields exercised by S1.
func TestDecodeFieldRoundTrip(t *testing.T) {
	rec := buildRecord(
		0xC0A80001, 0xC0A80002, 0xC0A800FE,
		3, 4,
		42, 8192,
		1000, 2000,
		5555, 443,
		0x1B, 17, 0xA0,
		65001, 65002,
		30, 28,
	)
	dg := buildDatagram(5, 1, 1000, 1600000000, 99, [][]byte{rec})

	d := New(seqtracker.New(0))
	out, _, err := d.Decode(dg, len(dg), net.ParseIP("10.1.1.1"), false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	router := cflowd.IPv4ToUint32(net.ParseIP("10.1.1.1"))

	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"router", binary.NativeEndian.Uint32(out[4:8]), router},
		{"srcIP", binary.NativeEndian.Uint32(out[8:12]), 0xC0A80001},
		{"dstIP", binary.NativeEndian.Uint32(out[12:16]), 0xC0A80002},
		{"nextHop", binary.NativeEndian.Uint32(out[32:36]), 0xC0A800FE},
		{"pkts", binary.NativeEndian.Uint32(out[24:28]), 42},
		{"bytes", binary.NativeEndian.Uint32(out[28:32]), 8192},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	if got := binary.NativeEndian.Uint16(out[16:18]); got != 3 {
		t.Errorf("inIf = %d, want 3", got)
	}
	if got := binary.NativeEndian.Uint16(out[18:20]); got != 4 {
		t.Errorf("outIf = %d, want 4", got)
	}
	if got := binary.NativeEndian.Uint16(out[20:22]); got != 5555 {
		t.Errorf("srcPort = %d, want 5555", got)
	}
	if got := binary.NativeEndian.Uint16(out[22:24]); got != 443 {
		t.Errorf("dstPort = %d, want 443", got)
	}
	if out[44] != 17 {
		t.Errorf("protocol = %d, want 17", out[44])
	}
	if out[45] != 0xA0 {
		t.Errorf("tos = %d, want 0xA0", out[45])
	}
	if got := binary.NativeEndian.Uint16(out[46:48]); got != 65001 {
		t.Errorf("srcAs = %d, want 65001", got)
	}
	if got := binary.NativeEndian.Uint16(out[48:50]); got != 65002 {
		t.Errorf("dstAs = %d, want 65002", got)
	}
	if out[50] != 30 {
		t.Errorf("srcMaskLen = %d, want 30", out[50])
	}
	if out[51] != 28 {
		t.Errorf("dstMaskLen = %d, want 28", out[51])
	}
	if out[52] != 0x1B {
		t.Errorf("tcpFlags = %d, want 0x1B", out[52])
	}
	if out[53] != 0 || out[54] != 0 {
		t.Errorf("trailing pad = %d,%d, want 0,0", out[53], out[54])
	}
}

// TestReconstructTime (property R2) exercises the timestamp arithmetic
// directly across uptime/unix_secs combinations, including the case where
// raw < uptime (negative delta) that real flows constantly produce.
func TestReconstructTime(t *testing.T) {
	cases := []struct {
		raw, uptime, unixSecs uint32
		want                  uint32
	}{
		{5000, 10000, 1000000000, 999999995},
		{8000, 10000, 1000000000, 999999998},
		{10000, 10000, 1000000000, 1000000000},
		{15000, 10000, 1000000000, 1000000005},
	}
	for _, c := range cases {
		got := reconstructTime(c.raw, c.uptime, c.unixSecs)
		if got != c.want {
			t.Errorf("reconstructTime(%d, %d, %d) = %d, want %d", c.raw, c.uptime, c.unixSecs, got, c.want)
		}
	}
}

// TestDecodeBoundaryZeroRecords (B1): cnt=0, length=header size is a legal,
// empty datagram.
func TestDecodeBoundaryZeroRecords(t *testing.T) {
	dg := buildDatagram(5, 0, 0, 0, 0, nil)
	d := New(seqtracker.New(0))
	out, dropped, err := d.Decode(dg, len(dg), net.ParseIP("192.0.2.1"), false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0", len(out))
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
}

// TestDecodeBoundaryMaxRecords (B2): cnt=30, the largest legal datagram.
func TestDecodeBoundaryMaxRecords(t *testing.T) {
	records := make([][]byte, cflowd.MaxRecords)
	for i := range records {
		records[i] = buildRecord(1, 2, 3, 0, 0, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	}
	dg := buildDatagram(5, uint16(cflowd.MaxRecords), 0, 0, 0, records)
	if len(dg) != cflowd.MaxDatagramSize {
		t.Fatalf("test datagram length = %d, want %d", len(dg), cflowd.MaxDatagramSize)
	}

	d := New(seqtracker.New(0))
	out, _, err := d.Decode(dg, len(dg), net.ParseIP("192.0.2.1"), false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != cflowd.MaxRecords*cflowd.CflowdRecordSize {
		t.Errorf("len(out) = %d, want %d", len(out), cflowd.MaxRecords*cflowd.CflowdRecordSize)
	}
}

// TestDecodeBoundaryLengthMismatch (B3): length disagrees with header cnt.
func TestDecodeBoundaryLengthMismatch(t *testing.T) {
	rec := buildRecord(1, 2, 3, 0, 0, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	dg := buildDatagram(5, 2, 0, 0, 0, [][]byte{rec}) // header claims 2 records, only 1 present

	d := New(seqtracker.New(0))
	_, _, err := d.Decode(dg, len(dg), net.ParseIP("192.0.2.1"), false)
	if err == nil {
		t.Fatal("Decode: want error for length/count mismatch, got nil")
	}
}

// TestDecodeBoundaryBadVersion (B4): a non-v5 datagram is rejected, and the
// one-time callback fires exactly once across repeated bad datagrams.
func TestDecodeBoundaryBadVersion(t *testing.T) {
	dg := buildDatagram(9, 0, 0, 0, 0, nil)

	calls := 0
	d := New(seqtracker.New(0))
	d.SetOnBadVersion(func(got uint16) {
		calls++
		if got != 9 {
			t.Errorf("onBadVersion got = %d, want 9", got)
		}
	})

	for i := 0; i < 3; i++ {
		_, _, err := d.Decode(dg, len(dg), net.ParseIP("192.0.2.1"), false)
		if err == nil {
			t.Fatal("Decode: want error for bad version, got nil")
		}
	}
	if calls != 1 {
		t.Errorf("onBadVersion called %d times, want 1", calls)
	}
}

// TestDecodeTooShort ensures a datagram shorter than the header is rejected
// before any field access is attempted.
func TestDecodeTooShort(t *testing.T) {
	d := New(seqtracker.New(0))
	_, _, err := d.Decode(make([]byte, 10), 10, net.ParseIP("192.0.2.1"), false)
	if err == nil {
		t.Fatal("Decode: want error for short packet, got nil")
	}
}

// TestDecodeDropDetection (S2-equivalent) checks that a sequence gap on the
// second datagram from the same router is reported through Decode.
func TestDecodeDropDetection(t *testing.T) {
	rec := buildRecord(1, 2, 3, 0, 0, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	router := net.ParseIP("192.0.2.1")
	d := New(seqtracker.New(0))

	dg1 := buildDatagram(5, 3, 0, 0, 7, [][]byte{rec, rec, rec})
	if _, dropped, err := d.Decode(dg1, len(dg1), router, true); err != nil || dropped != 0 {
		t.Fatalf("first Decode: dropped=%d err=%v, want 0, nil", dropped, err)
	}

	dg2 := buildDatagram(5, 1, 0, 0, 11, [][]byte{rec})
	_, dropped, err := d.Decode(dg2, len(dg2), router, true)
	if err != nil {
		t.Fatalf("second Decode: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}
