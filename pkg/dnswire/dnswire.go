// Package dnswire implements a minimal, in-place RFC 1035 message codec for
// the fake-DNS responder: enough to parse a single-question A/IN query and
// write a single-answer response into the same buffer, without allocating a
// second message.
package dnswire

import (
	"fmt"
	"strings"
)

// HeaderLen is the fixed size of the RFC 1035 message header.
const HeaderLen = 12

// Opcode and RCode values the responder cares about.
const (
	OpcodeQuery = 0

	RCodeNoError  = 0
	RCodeFormErr  = 1
	RCodeServFail = 2
	RCodeNXDomain = 3
	RCodeNotImp   = 4
	RCodeRefused  = 5
)

var rcodeTable = []string{"NoError", "FormErr", "ServFail", "NXDomain", "NotImp", "Refused"}

// ClassIN and TypeA are the only class/type this responder answers.
const (
	ClassIN = 1
	TypeA   = 1
)

// flagBits lists the single-bit header flags by (byte offset, bit offset, name).
var flagBits = []struct {
	byteOffset int
	bitOffset  uint
	name       string
}{
	{2, 7, "qr"},
	{2, 2, "aa"},
	{2, 1, "tc"},
	{2, 0, "rd"},
	{3, 7, "ra"},
	{3, 6, "z"},
	{3, 5, "ad"},
	{3, 4, "cd"},
}

// ParseError describes why a datagram could not be parsed as a DNS message.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "dnswire: " + e.Reason }

// Resolver maps a queried name to an A record's address (as 4 octets) and
// TTL. ok == false indicates the name is unknown.
type Resolver func(labels []string) (addr [4]byte, ttl uint32, ok bool)

// Msg wraps a mutable byte buffer holding an RFC 1035 message and tracks its
// logical length, which may be less than len(buf).
type Msg struct {
	buf []byte
	len int
}

// Parse validates buf[:n] as a DNS message header, returning a Msg that can
// be queried and, if it's a query, answered in place.
func Parse(buf []byte, n int) (*Msg, error) {
	if n < HeaderLen {
		return nil, &ParseError{Reason: fmt.Sprintf("message too short to contain a header: %d bytes", n)}
	}
	m := &Msg{buf: buf, len: n}
	if m.tc() {
		return nil, &ParseError{Reason: "message is truncated"}
	}
	return m, nil
}

// RespondWith writes a response into the message's backing buffer using
// resolver to answer the single question, and returns the response's
// length. A length of 0 means the query was malformed beyond what a
// well-formed error response can address (caller should drop the datagram).
func (m *Msg) RespondWith(resolver Resolver) int {
	if m.opcode() != OpcodeQuery {
		m.setResponse()
		m.setRCode(RCodeNotImp)
		return m.len
	}
	if m.qdCount() < 1 {
		m.setResponse()
		m.setRCode(RCodeFormErr)
		return m.len
	}

	labels := make([]string, 0, 8)
	offset := HeaderLen
	for {
		if offset+1 > m.len {
			return 0
		}
		labelLen := int(m.buf[offset])
		if labelLen == 0 {
			offset++
			break
		}
		if offset+1+labelLen > m.len {
			return 0
		}
		labels = append(labels, string(m.buf[offset+1:offset+1+labelLen]))
		offset += 1 + labelLen
	}

	if offset+4 > m.len {
		return 0
	}
	qtype := u16be(m.buf[offset : offset+2])
	qclass := u16be(m.buf[offset+2 : offset+4])
	offset += 4

	if qtype != TypeA || qclass != ClassIN {
		m.setResponse()
		m.setRCode(RCodeNotImp)
		return m.len
	}

	addr, ttl, ok := resolver(labels)
	if !ok {
		// RFC 1035: don't set NXDOMAIN since this responder isn't authoritative.
		m.setResponse()
		if m.rd() {
			m.setRA()
		}
		return m.len
	}

	m.setResponseHeader(RCodeNoError, 1, 1, 0, 0)

	// RFC 1035 4.1.4 message compression: the question name always
	// immediately follows the header, so the answer's NAME field can just
	// point back at it.
	namePtr := uint16(0b1100_0000_0000_0000 | HeaderLen)
	putU16be(m.buf[offset:offset+2], namePtr)
	putU16be(m.buf[offset+2:offset+4], TypeA)
	putU16be(m.buf[offset+4:offset+6], ClassIN)
	putU32be(m.buf[offset+6:offset+10], ttl)
	putU16be(m.buf[offset+10:offset+12], 4)
	copy(m.buf[offset+12:offset+16], addr[:])
	offset += 16

	return offset
}

func (m *Msg) setResponseHeader(rcode int, qd, an, ns, ar uint16) {
	m.setResponse()
	if m.rd() {
		m.setRA()
	}
	m.setRCode(rcode)
	putU16be(m.buf[4:6], qd)
	putU16be(m.buf[6:8], an)
	putU16be(m.buf[8:10], ns)
	putU16be(m.buf[10:12], ar)
}

func (m *Msg) ID() uint16      { return u16be(m.buf[0:2]) }
func (m *Msg) qdCount() uint16 { return u16be(m.buf[4:6]) }
func (m *Msg) anCount() uint16 { return u16be(m.buf[6:8]) }
func (m *Msg) nsCount() uint16 { return u16be(m.buf[8:10]) }
func (m *Msg) arCount() uint16 { return u16be(m.buf[10:12]) }

func (m *Msg) getFlag(byteOffset int, bitOffset uint) bool {
	return getBit(m.buf[byteOffset], bitOffset)
}

func (m *Msg) tc() bool { return m.getFlag(2, 1) }
func (m *Msg) rd() bool { return m.getFlag(2, 0) }
func (m *Msg) z() bool  { return m.getFlag(3, 6) }

func (m *Msg) opcode() int { return int(getBits(m.buf[2], 3, 4)) }
func (m *Msg) rcode() int  { return int(getBits(m.buf[3], 0, 4)) }

func (m *Msg) setResponse()      { setBit(&m.buf[2], 7) }
func (m *Msg) setRA()            { setBit(&m.buf[3], 7) }
func (m *Msg) setRCode(c int)    { setBits(&m.buf[3], 0, 4, byte(c)) }

// String renders the message header the way dig/drill do, for diagnostics.
func (m *Msg) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, ";; ->>HEADER<<- opcode: %d, rcode: %s, id: %d\n", m.opcode(), rcodeToStr(m.rcode()), m.ID())
	b.WriteString(";; flags:")
	for _, f := range flagBits {
		if m.getFlag(f.byteOffset, f.bitOffset) {
			b.WriteString(" ")
			b.WriteString(f.name)
		}
	}
	fmt.Fprintf(&b, "; QUERY: %d, ANSWER: %d, AUTHORITY: %d, ADDITIONAL: %d\n", m.qdCount(), m.anCount(), m.nsCount(), m.arCount())
	return b.String()
}

func rcodeToStr(c int) string {
	if c >= 0 && c < len(rcodeTable) {
		return rcodeTable[c]
	}
	return "NotImplemented"
}

func u16be(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func putU16be(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putU32be(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getBit(b byte, o uint) bool { return (b>>o)&1 == 1 }

func getBits(b byte, o, l uint) byte { return (b >> o) & ((1 << l) - 1) }

func setBit(b *byte, o uint) { *b |= 1 << o }

func setBits(b *byte, o, l uint, v byte) {
	*b = (*b &^ (((1 << l) - 1) << o)) | (v << o)
}
