// Package decoder validates NetFlow v5 datagrams and converts each flow
// record into the fixed-layout cflowd record described in spec.md §6.2. It
// is a direct translation of ValidateCISCOFlow and CvtCISCOV5ToCflowd from
// readflows.c, including the timestamp-reconstruction arithmetic that does
// not account for the 23-day SysUptime wrap — spec.md §9 requires that
// defect be reproduced exactly for bit-compatibility with the existing
// consumer.
package decoder

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/netflowd/netflowd/internal/cflowd"
	"github.com/netflowd/netflowd/internal/seqtracker"
)

// Decoder validates and decodes NetFlow v5 datagrams against a shared
// sequence tracker. A Decoder is not safe for concurrent use — the daemon
// runs exactly one, on the writer goroutine, matching spec.md §5's "the
// sequence tracker is accessed only by the writer" requirement.
type Decoder struct {
	tracker      *seqtracker.Tracker
	onBadVersion func(got uint16)
	versionNoted bool
}

// New creates a Decoder backed by the given sequence tracker.
func New(tracker *seqtracker.Tracker) *Decoder {
	return &Decoder{tracker: tracker}
}

// SetOnBadVersion installs a callback fired exactly once per process life,
// the first time a datagram declares a version other than 5 (spec.md §4.C
// validation step 2).
func (d *Decoder) SetOnBadVersion(fn func(got uint16)) { d.onBadVersion = fn }

// Decode validates buf[:length] as a NetFlow v5 datagram sent by router and,
// if valid, returns the concatenated cflowd records it encodes (55*n bytes).
// dropDetection controls whether the sequence tracker is consulted; when it
// is, the number of flows this datagram reports as dropped relative to the
// router's last datagram is returned in dropped.
func (d *Decoder) Decode(buf []byte, length int, router net.IP, dropDetection bool) (out []byte, dropped uint32, err error) {
	if length < cflowd.HeaderSize {
		return nil, 0, fmt.Errorf("decoder: packet length %d smaller than header size %d", length, cflowd.HeaderSize)
	}

	data := buf[:length]

	version := binary.BigEndian.Uint16(data[0:2])
	if version != cflowd.Version5 {
		if !d.versionNoted {
			d.versionNoted = true
			if d.onBadVersion != nil {
				d.onBadVersion(version)
			}
		}
		return nil, 0, fmt.Errorf("decoder: unsupported NetFlow version %d", version)
	}

	count := binary.BigEndian.Uint16(data[2:4])
	want := cflowd.HeaderSize + int(count)*cflowd.RecordSize
	if want != length {
		return nil, 0, fmt.Errorf("decoder: packet length %d doesn't match cnt=%d (want %d)", length, count, want)
	}

	uptime := binary.BigEndian.Uint32(data[4:8])
	unixSecs := binary.BigEndian.Uint32(data[8:12])
	flowSequence := binary.BigEndian.Uint32(data[16:20])

	if dropDetection {
		if n, ok := d.tracker.Observe(router, flowSequence, uint32(count)); ok {
			dropped = n
		}
	}

	if count == 0 {
		return nil, dropped, nil
	}

	out = make([]byte, int(count)*cflowd.CflowdRecordSize)
	routerU32 := cflowd.IPv4ToUint32(router)

	for i := 0; i < int(count); i++ {
		rec := data[cflowd.HeaderSize+i*cflowd.RecordSize : cflowd.HeaderSize+(i+1)*cflowd.RecordSize]
		o := out[i*cflowd.CflowdRecordSize : (i+1)*cflowd.CflowdRecordSize]

		srcIPAddr := binary.BigEndian.Uint32(rec[0:4])
		dstIPAddr := binary.BigEndian.Uint32(rec[4:8])
		ipNextHop := binary.BigEndian.Uint32(rec[8:12])
		inputIfIndex := binary.BigEndian.Uint16(rec[12:14])
		outputIfIndex := binary.BigEndian.Uint16(rec[14:16])
		pkts := binary.BigEndian.Uint32(rec[16:20])
		bytes_ := binary.BigEndian.Uint32(rec[20:24])
		rawStart := binary.BigEndian.Uint32(rec[24:28])
		rawEnd := binary.BigEndian.Uint32(rec[28:32])
		srcPort := binary.BigEndian.Uint16(rec[32:34])
		dstPort := binary.BigEndian.Uint16(rec[34:36])
		// rec[36] is pad1, unused.
		tcpFlags := rec[37]
		protocol := rec[38]
		tos := rec[39]
		srcAs := binary.BigEndian.Uint16(rec[40:42])
		dstAs := binary.BigEndian.Uint16(rec[42:44])
		srcMaskLen := rec[44]
		dstMaskLen := rec[45]
		// rec[46:48] is pad2, unused.

		index := flowSequence + uint32(i)
		startTime := reconstructTime(rawStart, uptime, unixSecs)
		endTime := reconstructTime(rawEnd, uptime, unixSecs)

		binary.NativeEndian.PutUint32(o[0:4], index)
		binary.NativeEndian.PutUint32(o[4:8], routerU32)
		binary.NativeEndian.PutUint32(o[8:12], srcIPAddr)
		binary.NativeEndian.PutUint32(o[12:16], dstIPAddr)
		binary.NativeEndian.PutUint16(o[16:18], inputIfIndex)
		binary.NativeEndian.PutUint16(o[18:20], outputIfIndex)
		binary.NativeEndian.PutUint16(o[20:22], srcPort)
		binary.NativeEndian.PutUint16(o[22:24], dstPort)
		binary.NativeEndian.PutUint32(o[24:28], pkts)
		binary.NativeEndian.PutUint32(o[28:32], bytes_)
		binary.NativeEndian.PutUint32(o[32:36], ipNextHop)
		binary.NativeEndian.PutUint32(o[36:40], startTime)
		binary.NativeEndian.PutUint32(o[40:44], endTime)
		o[44] = protocol
		o[45] = tos
		binary.NativeEndian.PutUint16(o[46:48], srcAs)
		binary.NativeEndian.PutUint16(o[48:50], dstAs)
		o[50] = srcMaskLen
		o[51] = dstMaskLen
		o[52] = tcpFlags
		o[53] = 0
		o[54] = 0
	}

	return out, dropped, nil
}

// reconstructTime reproduces the original's SysUptime-relative timestamp
// arithmetic exactly, wrap defect included: ((int32)raw - uptime)/1000 +
// unixSecs, truncating division toward zero, stored back as u32.
func reconstructTime(raw, uptime, unixSecs uint32) uint32 {
	delta := int32(raw) - int32(uptime)
	return uint32(delta/1000 + int32(unixSecs))
}
