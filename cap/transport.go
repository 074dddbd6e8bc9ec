package cap

import (
	"net"
	"time"
)

// transport is the minimal datagram facility the engine needs: bind,
// non-blocking send, timed receive, close. CAP's substrate is UDP
// (spec §1 explicitly excludes raw IP), so the only implementation is
// a thin wrapper over *net.UDPConn — unlike the reference repo, which
// wraps a raw IP socket because its protocol runs instead of the
// kernel's TCP, CAP's datagrams are ordinary UDP payloads.
type transport struct {
	conn *net.UDPConn
}

// datagram is one (peer address, bytes) tuple delivered by recv.
type datagram struct {
	Peer *net.UDPAddr
	Data []byte
}

// bindTransport opens a UDP socket on localAddr. An empty localAddr
// ("" or ":0") binds to an OS-chosen ephemeral port, as connect()
// wants for its local endpoint.
func bindTransport(localAddr string) (*transport, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, wrapErr(AddressInUse, "resolve "+localAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, wrapErr(AddressInUse, "listen "+localAddr, err)
	}
	return &transport{conn: conn}, nil
}

// LocalAddr reports the bound local address.
func (t *transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes bytes to peer. It never blocks beyond the kernel's own
// non-blocking UDP write path; failures are reported to the caller,
// who per spec treats them as transient and leaves the segment in
// the retransmission buffer for a future retry.
func (t *transport) Send(peer *net.UDPAddr, bytes []byte) error {
	_, err := t.conn.WriteToUDP(bytes, peer)
	if err != nil {
		return wrapErr(TransportError, "send to "+peer.String(), err)
	}
	return nil
}

// Recv blocks until a datagram arrives or deadline passes, whichever
// is first. A zero deadline means "no timeout" (blocks indefinitely).
func (t *transport) Recv(deadline time.Time, buf []byte) (*datagram, error) {
	if deadline.IsZero() {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, wrapErr(TransportError, "clear read deadline", err)
		}
	} else if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, wrapErr(TransportError, "set read deadline", err)
	}

	n, peer, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, wrapErr(WouldBlock, "recv timed out", err)
		}
		return nil, wrapErr(TransportError, "recv", err)
	}
	data := make([]byte, n)
	copy(data, buf[:n])
	return &datagram{Peer: peer, Data: data}, nil
}

// Close releases the underlying UDP socket.
func (t *transport) Close() error {
	return t.conn.Close()
}
