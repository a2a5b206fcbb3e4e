// Package cflowd holds the wire constants and record layouts shared by the
// decoder, pool, and writer: the NetFlow v5 datagram shape on input and the
// fixed 55-byte cflowd record shape on output.
package cflowd

import "net"

const (
	// HeaderSize is the size in bytes of a NetFlow v5 datagram header.
	HeaderSize = 24

	// RecordSize is the size in bytes of one NetFlow v5 flow record.
	RecordSize = 48

	// MaxRecords is the largest flow count a v5 header may declare.
	MaxRecords = 30

	// MaxDatagramSize is the largest legal v5 datagram: header plus
	// MaxRecords flow records.
	MaxDatagramSize = HeaderSize + RecordSize*MaxRecords

	// CflowdRecordSize is the fixed on-disk length of one cflowd record.
	// It must never be derived from a Go struct's size, since struct
	// padding would make that value arch-dependent.
	CflowdRecordSize = 55

	// Version5 is the NetFlow version this daemon understands.
	Version5 = 5
)

// Header mirrors the 24-byte NetFlow v5 datagram header. All fields are
// big-endian on the wire.
type Header struct {
	Version          uint16
	Count            uint16
	Uptime           uint32 // milliseconds since router boot
	UnixSecs         uint32
	UnixNsecs        uint32
	FlowSequence     uint32
	EngineTypeID     uint16 // engine type (high byte) + engine id (low byte), unused by this daemon
	SamplingInterval uint16
}

// Record mirrors one 48-byte NetFlow v5 flow record as it appears on the
// wire, immediately following the header.
type Record struct {
	SrcIPAddr     uint32
	DstIPAddr     uint32
	IPNextHop     uint32
	InputIfIndex  uint16
	OutputIfIndex uint16
	Pkts          uint32
	Bytes         uint32
	StartTime     uint32 // SysUptime at start of flow
	EndTime       uint32 // SysUptime at last packet of flow
	SrcPort       uint16
	DstPort       uint16
	Pad1          uint8
	TCPFlags      uint8
	Protocol      uint8
	Tos           uint8
	SrcAs         uint16
	DstAs         uint16
	SrcMaskLen    uint8
	DstMaskLen    uint8
	Pad2          uint16
}

// IPv4ToUint32 converts an IPv4 address to its big-endian-significant u32
// form (the natural "network integer" used by the sequence tracker's table
// key and the cflowd record's router field). Non-IPv4 addresses convert to 0.
func IPv4ToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// Uint32ToIPv4 is the inverse of IPv4ToUint32.
func Uint32ToIPv4(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
