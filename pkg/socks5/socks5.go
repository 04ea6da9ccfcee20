// Package socks5 implements a minimal RFC 1928 SOCKS5 handshake (no
// authentication, CONNECT only) plus an HTTP CONNECT fallback detected by
// sniffing the first two bytes of a new connection.
package socks5

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/opd-ai/faketun/pkg/ferrors"
	"github.com/opd-ai/faketun/pkg/security"
)

// Protocol constants from RFC 1928.
const (
	Ver = 5
	Rsv = 0

	AuthNoAuthRequired = 0

	CmdConnect = 1

	ATYPV4     = 1
	ATYPDomain = 3
	ATYPV6     = 4

	RepSucceeded           = 0
	RepCommandNotSupported = 7
)

// Dst is a SOCKS5 destination address: either a domain name or a literal IP,
// plus a port.
type Dst struct {
	Domain string // set when Addr is nil
	Addr   net.IP // set when Domain == ""
	Port   uint16
}

// String renders the destination the way a CONNECT target string would.
func (d Dst) String() string {
	host := d.Domain
	if host == "" {
		host = d.Addr.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(d.Port)))
}

// ReadDst reads a SOCKS5 address (ATYP + address + port) from r.
func ReadDst(r io.Reader) (Dst, error) {
	var atyp [1]byte
	if _, err := io.ReadFull(r, atyp[:]); err != nil {
		return Dst{}, ferrors.Socks5Err("read atyp", err)
	}

	var dst Dst
	switch atyp[0] {
	case ATYPV4:
		var ip [4]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return Dst{}, ferrors.Socks5Err("read ipv4", err)
		}
		dst.Addr = net.IP(ip[:])
	case ATYPV6:
		var ip [16]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return Dst{}, ferrors.Socks5Err("read ipv6", err)
		}
		dst.Addr = net.IP(ip[:])
	case ATYPDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return Dst{}, ferrors.Socks5Err("read domain length", err)
		}
		domain := make([]byte, l[0])
		if _, err := io.ReadFull(r, domain); err != nil {
			return Dst{}, ferrors.Socks5Err("read domain", err)
		}
		dst.Domain = string(domain)
	default:
		return Dst{}, ferrors.Socks5Err(fmt.Sprintf("unsupported ATYP %d", atyp[0]), nil)
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Dst{}, ferrors.Socks5Err("read port", err)
	}
	dst.Port = uint16(portBuf[0])<<8 | uint16(portBuf[1])

	return dst, nil
}

// WriteDst writes a SOCKS5 address, using the domain encoding when Domain is
// set and a literal IPv4 or IPv6 encoding of Addr otherwise.
func WriteDst(w io.Writer, dst Dst) error {
	if dst.Domain != "" {
		return writeDomain(w, dst.Domain, dst.Port)
	}

	v4 := dst.Addr.To4()
	if v4 != nil {
		buf := make([]byte, 0, 7)
		buf = append(buf, ATYPV4)
		buf = append(buf, v4...)
		buf = append(buf, byte(dst.Port>>8), byte(dst.Port))
		_, err := w.Write(buf)
		return err
	}

	v6 := dst.Addr.To16()
	if v6 == nil {
		return ferrors.Socks5Err("destination has neither a domain nor a valid IP", nil)
	}
	buf := make([]byte, 0, 19)
	buf = append(buf, ATYPV6)
	buf = append(buf, v6...)
	buf = append(buf, byte(dst.Port>>8), byte(dst.Port))
	_, err := w.Write(buf)
	return err
}

func writeDomain(w io.Writer, domain string, port uint16) error {
	l, err := security.SafeLenToUint16([]byte(domain))
	if err != nil || l > 0xff {
		return ferrors.Socks5Err(fmt.Sprintf("domain too long: %d bytes", len(domain)), nil)
	}
	buf := make([]byte, 0, 4+len(domain))
	buf = append(buf, ATYPDomain, byte(l))
	buf = append(buf, domain...)
	buf = append(buf, byte(port>>8), byte(port))
	_, err = w.Write(buf)
	return err
}

// Conn is the post-handshake connection: reads must go through it rather
// than the raw net.Conn, since the handshake's sniff buffers ahead of the
// caller's first read.
type Conn struct {
	net.Conn
	r *bufio.Reader
}

// Read satisfies io.Reader using the handshake's buffered reader so no
// sniffed-ahead bytes are lost.
func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// ServerHandshake negotiates either a SOCKS5 CONNECT or an HTTP CONNECT
// request on conn and returns the destination the caller should dial, plus
// a Conn to use for all further I/O.
func ServerHandshake(conn net.Conn) (Dst, *Conn, error) {
	r := bufio.NewReader(conn)
	wrapped := &Conn{Conn: conn, r: r}

	peek, err := r.Peek(2)
	if err != nil {
		return Dst{}, nil, ferrors.Socks5Err("peek handshake prefix", err)
	}
	if strings.EqualFold(string(peek), "CO") {
		dst, err := connectHandshake(conn, r)
		return dst, wrapped, err
	}
	dst, err := socks5ServerHandshake(conn, r)
	return dst, wrapped, err
}

func socks5ServerHandshake(conn net.Conn, r *bufio.Reader) (Dst, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Dst{}, ferrors.Socks5Err("read version/nmethods", err)
	}
	if header[0] != Ver {
		return Dst{}, ferrors.Socks5Err(fmt.Sprintf("unsupported version %d", header[0]), nil)
	}

	methods := make([]byte, header[1])
	if _, err := io.ReadFull(r, methods); err != nil {
		return Dst{}, ferrors.Socks5Err("read auth methods", err)
	}

	if _, err := conn.Write([]byte{Ver, AuthNoAuthRequired}); err != nil {
		return Dst{}, ferrors.Socks5Err("write method selection", err)
	}

	var req [3]byte
	if _, err := io.ReadFull(r, req[:]); err != nil {
		return Dst{}, ferrors.Socks5Err("read request header", err)
	}
	if req[0] != Ver {
		return Dst{}, ferrors.Socks5Err(fmt.Sprintf("unsupported version %d", req[0]), nil)
	}
	if req[2] != Rsv {
		return Dst{}, ferrors.Socks5Err(fmt.Sprintf("non-zero reserved byte %d", req[2]), nil)
	}
	if req[1] != CmdConnect {
		conn.Write([]byte{Ver, RepCommandNotSupported, 0, ATYPV4, 0, 0, 0, 0, 0, 0})
		return Dst{}, ferrors.Socks5Err(fmt.Sprintf("unsupported command %d", req[1]), nil)
	}

	dst, err := ReadDst(r)
	if err != nil {
		return Dst{}, err
	}

	reply := []byte{Ver, RepSucceeded, 0, ATYPV4, 0, 0, 0, 0, 0, 0}
	if _, err := conn.Write(reply); err != nil {
		return Dst{}, ferrors.Socks5Err("write success reply", err)
	}

	return dst, nil
}

// connectHandshake handles an HTTP CONNECT request. The caller's 2-byte
// sniff only peeked at "CO", so the request line read here still starts
// with the method; this checks that the method ends in "NNECT", then reads
// the remaining headers up to the blank-line terminator.
func connectHandshake(conn net.Conn, r *bufio.Reader) (Dst, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Dst{}, ferrors.Socks5Err("read request line", err)
	}
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasSuffix(strings.ToUpper(fields[0]), "NNECT") {
		return Dst{}, ferrors.Socks5Err("not a CONNECT request", nil)
	}

	host, portStr, err := net.SplitHostPort(fields[1])
	if err != nil {
		return Dst{}, ferrors.Socks5Err("invalid CONNECT target", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Dst{}, ferrors.Socks5Err("invalid CONNECT port", err)
	}

	for {
		hdr, err := r.ReadString('\n')
		if err != nil {
			return Dst{}, ferrors.Socks5Err("read headers", err)
		}
		if strings.TrimRight(hdr, "\r\n") == "" {
			break
		}
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 :)\r\n\r\n")); err != nil {
		return Dst{}, ferrors.Socks5Err("write CONNECT reply", err)
	}

	portVal, err := security.SafeIntToUint16(port)
	if err != nil {
		return Dst{}, ferrors.Socks5Err("port out of range", err)
	}
	return Dst{Domain: host, Port: portVal}, nil
}

// ClientHandshake performs the client side of a SOCKS5 handshake for dst
// over conn, with no authentication.
func ClientHandshake(conn net.Conn, dst Dst) error {
	if _, err := conn.Write([]byte{Ver, 1, AuthNoAuthRequired}); err != nil {
		return ferrors.Socks5Err("write greeting", err)
	}

	var selected [2]byte
	if _, err := io.ReadFull(conn, selected[:]); err != nil {
		return ferrors.Socks5Err("read method selection", err)
	}
	if selected[0] != Ver || selected[1] != AuthNoAuthRequired {
		return ferrors.Socks5Err("server rejected no-auth", nil)
	}

	if _, err := conn.Write([]byte{Ver, CmdConnect, 0}); err != nil {
		return ferrors.Socks5Err("write request header", err)
	}
	if err := WriteDst(conn, dst); err != nil {
		return ferrors.Socks5Err("write destination", err)
	}

	var reply [3]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return ferrors.Socks5Err("read reply header", err)
	}
	if reply[1] != RepSucceeded {
		return ferrors.Socks5Err(fmt.Sprintf("server returned error code %d", reply[1]), nil)
	}

	if _, err := ReadDst(conn); err != nil {
		return ferrors.Socks5Err("read bound address", err)
	}

	return nil
}
