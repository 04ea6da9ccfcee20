package dnswire

import "testing"

// buildQuery constructs a minimal standard query for name (dot-separated
// labels), with the recursion-desired bit set, mirroring what a stub
// resolver sends.
func buildQuery(name string) []byte {
	buf := make([]byte, HeaderLen, 128)
	putU16be(buf[0:2], 0x1234) // id
	buf[2] = 0x01              // RD set, opcode QUERY
	buf[3] = 0x00
	putU16be(buf[4:6], 1) // QDCOUNT

	labels := splitLabels(name)
	for _, l := range labels {
		buf = append(buf, byte(len(l)))
		buf = append(buf, []byte(l)...)
	}
	buf = append(buf, 0) // root label

	qtype := make([]byte, 2)
	putU16be(qtype, TypeA)
	buf = append(buf, qtype...)
	qclass := make([]byte, 2)
	putU16be(qclass, ClassIN)
	buf = append(buf, qclass...)

	// pad so the response (which can be slightly longer) has room.
	padded := make([]byte, len(buf), len(buf)+32)
	copy(padded, buf)
	return padded
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

func TestRespondWithKnownName(t *testing.T) {
	raw := buildQuery("example.com")
	buf := make([]byte, len(raw), len(raw)+32)
	copy(buf, raw)
	n := len(raw)

	msg, err := Parse(buf, n)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	resolver := func(labels []string) ([4]byte, uint32, bool) {
		if len(labels) != 2 || labels[0] != "example" || labels[1] != "com" {
			t.Fatalf("resolver received unexpected labels: %v", labels)
		}
		return [4]byte{100, 64, 0, 1}, 60, true
	}

	respLen := msg.RespondWith(resolver)
	if respLen <= n {
		t.Fatalf("response length %d should exceed query length %d", respLen, n)
	}

	// Re-parse the response to check the header flags flipped correctly.
	resp, err := Parse(buf, respLen)
	if err != nil {
		t.Fatalf("Parse(response) error: %v", err)
	}
	if !resp.getFlag(2, 7) {
		t.Fatalf("expected QR bit set in response")
	}
	if resp.rcode() != RCodeNoError {
		t.Fatalf("rcode = %d, want NoError", resp.rcode())
	}
	if resp.anCount() != 1 {
		t.Fatalf("ANCOUNT = %d, want 1", resp.anCount())
	}

	// The answer's address bytes sit at a fixed offset: header + question.
	addrOffset := respLen - 4
	got := buf[addrOffset : addrOffset+4]
	want := []byte{100, 64, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("answer address = %v, want %v", got, want)
		}
	}

	// Compression pointer must point at the header's question section.
	nameOffset := respLen - 16
	ptr := u16be(buf[nameOffset : nameOffset+2])
	if ptr != 0b1100_0000_0000_0000|HeaderLen {
		t.Fatalf("compression pointer = %#04x, want %#04x", ptr, 0b1100_0000_0000_0000|HeaderLen)
	}
}

func TestRespondWithUnknownNameReturnsNoAnswer(t *testing.T) {
	raw := buildQuery("unknown.example.com")
	buf := make([]byte, len(raw), len(raw)+32)
	copy(buf, raw)

	msg, err := Parse(buf, len(raw))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	respLen := msg.RespondWith(func(labels []string) ([4]byte, uint32, bool) {
		return [4]byte{}, 0, false
	})

	resp, err := Parse(buf, respLen)
	if err != nil {
		t.Fatalf("Parse(response) error: %v", err)
	}
	if resp.anCount() != 0 {
		t.Fatalf("ANCOUNT = %d, want 0 for unresolved name", resp.anCount())
	}
	if !resp.getFlag(2, 7) {
		t.Fatalf("expected QR bit set even on empty response")
	}
}

func TestRespondWithRejectsNonQueryOpcode(t *testing.T) {
	raw := buildQuery("example.com")
	buf := make([]byte, len(raw), len(raw)+32)
	copy(buf, raw)
	buf[2] |= 0x08 // opcode = 1 (not QUERY)

	msg, err := Parse(buf, len(raw))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	respLen := msg.RespondWith(func(labels []string) ([4]byte, uint32, bool) {
		t.Fatalf("resolver should not be called for a non-query opcode")
		return [4]byte{}, 0, false
	})

	resp, err := Parse(buf, respLen)
	if err != nil {
		t.Fatalf("Parse(response) error: %v", err)
	}
	if resp.rcode() != RCodeNotImp {
		t.Fatalf("rcode = %d, want NotImp", resp.rcode())
	}
}

func TestRespondWithRejectsMissingQuestion(t *testing.T) {
	buf := make([]byte, HeaderLen, HeaderLen+16)
	putU16be(buf[4:6], 0) // QDCOUNT = 0

	msg, err := Parse(buf, HeaderLen)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	respLen := msg.RespondWith(func(labels []string) ([4]byte, uint32, bool) {
		t.Fatalf("resolver should not be called when QDCOUNT is 0")
		return [4]byte{}, 0, false
	})

	resp, err := Parse(buf, respLen)
	if err != nil {
		t.Fatalf("Parse(response) error: %v", err)
	}
	if resp.rcode() != RCodeFormErr {
		t.Fatalf("rcode = %d, want FormErr", resp.rcode())
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	buf := make([]byte, HeaderLen)
	buf[2] = 0x02 // TC bit set
	if _, err := Parse(buf, HeaderLen); err == nil {
		t.Fatalf("expected error for truncated message")
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	buf := make([]byte, 4)
	if _, err := Parse(buf, 4); err == nil {
		t.Fatalf("expected error for message shorter than the header")
	}
}

func TestStringIncludesFlagsAndCounts(t *testing.T) {
	raw := buildQuery("example.com")
	buf := make([]byte, len(raw))
	copy(buf, raw)
	msg, err := Parse(buf, len(raw))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	s := msg.String()
	if s == "" {
		t.Fatalf("String() returned empty output")
	}
}
