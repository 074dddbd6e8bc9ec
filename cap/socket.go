package cap

import (
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// Socket is the application-facing facade: bind, connect, listen,
// accept, setsockopt/getsockopt. It owns exactly one underlying UDP
// socket and demultiplexes inbound datagrams to the right Connection
// by peer address — grounded on the reference repo's
// PcpProtocolConnection fanning a single raw-IP socket out to many
// Connections by key (lib/pcpcore.go), adapted here to a plain
// net.UDPConn since CAP's substrate is UDP, not raw IP.
type Socket struct {
	mu        sync.Mutex
	transport *transport
	pool      *bufferPool
	opts      *Options
	logger    *log.Logger

	isListener bool
	acceptCh   chan *Connection
	conns      map[string]*Connection

	closeSignal chan struct{}
	wg          sync.WaitGroup
}

// Bind opens a UDP socket at localAddr (use ":0" or "" for an
// ephemeral port) and starts the dispatch loop that routes inbound
// datagrams to connections. opts may be nil to take DefaultOptions().
func Bind(localAddr string, opts *Options) (*Socket, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	t, err := bindTransport(localAddr)
	if err != nil {
		return nil, err
	}
	s := &Socket{
		transport:   t,
		pool:        newBufferPool(opts.Window*4, opts.PayloadMax),
		opts:        opts.clone(),
		logger:      log.New(os.Stderr, "cap: ", log.LstdFlags),
		acceptCh:    make(chan *Connection),
		conns:       make(map[string]*Connection),
		closeSignal: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatchLoop()
	return s, nil
}

// Listen transitions the socket to accept inbound connections. It is
// idempotent.
func (s *Socket) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isListener = true
	return nil
}

// Accept blocks until a passively-opened connection reaches
// ESTABLISHED, then returns it.
func (s *Socket) Accept() (*Connection, error) {
	select {
	case conn := <-s.acceptCh:
		return conn, nil
	case <-s.closeSignal:
		return nil, newErr(ConnectionClosed, "socket closed while waiting to accept")
	}
}

// Connect actively opens a connection to peer, driving the three-way
// handshake and blocking until ESTABLISHED or ConnectTimeout.
func (s *Socket) Connect(peer string) (*Connection, error) {
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, wrapErr(TransportError, "resolve peer "+peer, err)
	}
	conn := newConnection(s, addr, true)
	issLocal, err := generateISN()
	if err != nil {
		return nil, wrapErr(TransportError, "generate ISN", err)
	}
	conn.issLocal = issLocal
	conn.state = SynSent
	conn.handshakeRetriesLeft = s.opts.HandshakeRetries
	conn.connectReply = make(chan error, 1)

	conn.sendSegment(&Segment{Type: SYN, Seq: issLocal})
	conn.handshakeTimerID = conn.timers.Arm(TimerHandshakeRetry, 0, s.opts.RTOInitial)

	s.register(conn)
	go conn.run()

	select {
	case err := <-conn.connectReply:
		if err != nil {
			s.unregister(conn)
			return nil, err
		}
		return conn, nil
	case <-conn.doneSignal:
		return nil, conn.closedOrDefault()
	}
}

// completeAccept is called by a passive Connection's own event-loop
// goroutine once it reaches ESTABLISHED, to hand itself to a blocked
// Accept() caller.
func (s *Socket) completeAccept(c *Connection) {
	select {
	case s.acceptCh <- c:
	case <-s.closeSignal:
	}
}

func (s *Socket) register(c *Connection) {
	s.mu.Lock()
	s.conns[c.remote.String()] = c
	s.mu.Unlock()
}

func (s *Socket) unregister(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.remote.String())
	s.mu.Unlock()
}

// dispatchLoop is the socket's single reader: it decodes inbound
// datagrams and routes them to the owning connection, spawning a new
// passive connection on an unsolicited SYN when the socket is
// listening. Grounded on Service.handleIncomingPackets
// (lib/server/service.go).
func (s *Socket) dispatchLoop() {
	defer s.wg.Done()
	elem, buf, err := s.pool.acquireScratch()
	if err != nil {
		s.logger.Printf("dispatch: pool acquire failed: %v", err)
		return
	}
	defer s.pool.release(elem)

	for {
		select {
		case <-s.closeSignal:
			return
		default:
		}

		dg, err := s.transport.Recv(time.Now().Add(200*time.Millisecond), buf)
		if err != nil {
			if capErr, ok := err.(*Error); ok && capErr.Timeout() {
				continue
			}
			select {
			case <-s.closeSignal:
				return
			default:
			}
			s.logger.Printf("dispatch: recv: %v", err)
			continue
		}

		seg, err := DecodeSegment(dg.Data)
		if err != nil {
			s.logger.Printf("debug: malformed segment from %s: %v", dg.Peer, err)
			continue
		}

		s.mu.Lock()
		conn, ok := s.conns[dg.Peer.String()]
		listening := s.isListener
		s.mu.Unlock()

		if !ok {
			if listening && seg.Type == SYN {
				s.spawnPassiveConnection(dg.Peer, seg)
			}
			continue
		}
		conn.Deliver(seg)
	}
}

// spawnPassiveConnection handles an inbound SYN while listening:
// LISTEN --recv SYN(seq=X)--> SYN_RCVD, choosing iss_local, computing
// rcv_nxt = X+1, and sending SYN_ACK(seq=iss_local, ack=X+1).
func (s *Socket) spawnPassiveConnection(peer *net.UDPAddr, syn *Segment) {
	issLocal, err := generateISN()
	if err != nil {
		s.logger.Printf("spawn: generate ISN: %v", err)
		return
	}
	conn := newConnection(s, peer, false)
	conn.issLocal = issLocal
	conn.issPeer = syn.Seq
	conn.rcvBuf = newRecvBuffer(syn.Seq + 1)
	conn.state = SynRcvd
	conn.handshakeRetriesLeft = s.opts.HandshakeRetries
	conn.cachedSynAck = &Segment{Type: SYNACK, Seq: issLocal, Ack: syn.Seq + 1}

	conn.sendSegment(conn.cachedSynAck)
	conn.handshakeTimerID = conn.timers.Arm(TimerHandshakeRetry, 0, s.opts.RTOInitial)

	s.register(conn)
	go conn.run()
}

// Close releases the socket's underlying UDP conn and stops the
// dispatch loop. Live connections are not individually torn down;
// callers are expected to Close() each Connection first.
func (s *Socket) Close() error {
	select {
	case <-s.closeSignal:
		return nil
	default:
		close(s.closeSignal)
	}
	s.wg.Wait()
	return s.transport.Close()
}

// LocalAddr reports the socket's bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.transport.LocalAddr()
}

// SetOption sets a socket option that will apply to connections
// created from this point on (existing connections keep the options
// snapshot they were created with).
func (s *Socket) SetOption(name Option, value any) error {
	return s.opts.Set(name, value)
}

// GetOption reads the socket's current option value.
func (s *Socket) GetOption(name Option) (any, error) {
	return s.opts.Get(name)
}
