package cap

import (
	"fmt"
	"log"
	"net"
	"time"
)

// mailboxOp identifies the kind of request an application goroutine
// posts into a Connection's event loop mailbox.
type mailboxOp int

const (
	opSend mailboxOp = iota
	opClose
)

type mailboxRequest struct {
	op      mailboxOp
	payload []byte
	reply   chan error
}

// pendingSend is a sendto call admitted into the mailbox but not yet
// fully handed to the send buffer — the window may be full when the
// call arrives, so admission continues incrementally as ACKs free
// room, rather than stalling the event loop.
type pendingSend struct {
	chunks [][]byte
	final  []bool
	idx    int
	reply  chan error
}

// Connection is one CAP connection: the state machine variable, the
// send/receive buffers, the timer set, the RTT estimator and a
// single owning event-loop goroutine. Per spec.md §5 the connection
// record belongs exclusively to that goroutine; every other goroutine
// talks to it only through channels. Grounded on the reference repo's
// per-connection goroutine reading an InputChannel
// (lib/server/connection.go, lib/client/connection.go), adapted from
// its flag-dispatch switch to this protocol's eight named states.
type Connection struct {
	socket *Socket
	remote *net.UDPAddr
	active bool // true: this side called connect(); false: this side was accept()ed
	opts   *Options
	logger *log.Logger

	state    State
	issLocal uint32
	issPeer  uint32
	finSeq   uint32

	sndBuf *sendBuffer
	rcvBuf *recvBuffer
	timers *TimerScheduler
	rtt    *RTTEstimator

	handshakeRetriesLeft int
	handshakeTimerID     TimerID
	cachedSynAck         *Segment
	cachedFinalAck       *Segment

	pendingSends []*pendingSend

	inbound      chan *Segment
	mailbox      chan *mailboxRequest
	inbox        chan []byte
	eofSignal    chan struct{}
	doneSignal   chan struct{}
	peerClosed   bool
	closedErr    error
	connectReply chan error
}

func newConnection(s *Socket, remote *net.UDPAddr, active bool) *Connection {
	return &Connection{
		socket:     s,
		remote:     remote,
		active:     active,
		opts:       s.opts.clone(),
		logger:     log.New(s.logger.Writer(), fmt.Sprintf("[cap %s] ", remote), log.LstdFlags),
		rtt:        NewRTTEstimator(s.opts.RTOInitial, s.opts.RTOMin, s.opts.RTOMax),
		timers:     NewTimerScheduler(),
		inbound:    make(chan *Segment, 8),
		mailbox:    make(chan *mailboxRequest),
		inbox:      make(chan []byte, 8),
		eofSignal:  make(chan struct{}),
		doneSignal: make(chan struct{}),
	}
}

// run is the connection's single event loop goroutine: it services
// inbound segments, application mailbox requests, and expired timers
// in strict sequence, one at a time, per spec.md §5's ordering
// guarantee.
func (c *Connection) run() {
	defer close(c.doneSignal)
	for {
		var timerC <-chan time.Time
		if dl, ok := c.timers.NextDeadline(); ok {
			d := time.Until(dl)
			if d < 0 {
				d = 0
			}
			timerC = time.After(d)
		}
		select {
		case seg := <-c.inbound:
			c.handleSegment(seg)
		case req := <-c.mailbox:
			c.handleMailbox(req)
		case <-timerC:
			c.handleTimers()
		}
		c.admitPending()
		if c.state == Closed {
			return
		}
	}
}

// Deliver hands an inbound, already-decoded segment to the
// connection's event loop. Called from the socket's dispatch loop,
// never from the connection's own goroutine.
func (c *Connection) Deliver(seg *Segment) {
	select {
	case c.inbound <- seg:
	case <-c.doneSignal:
	}
}

func (c *Connection) handleSegment(seg *Segment) {
	switch c.state {
	case SynSent:
		c.handleSynSent(seg)
	case SynRcvd:
		c.handleSynRcvd(seg)
	case Established:
		c.handleEstablished(seg)
	case FinWait:
		c.handleFinWait(seg)
	case TimeWait:
		c.handleTimeWait(seg)
	default:
		// CLOSED and CLOSE_WAIT have no inbound segments that change
		// anything; close_wait exits only via the application's close().
	}
}

func (c *Connection) handleSynSent(seg *Segment) {
	if seg.Type != SYNACK || seg.Ack != c.issLocal+1 {
		return
	}
	c.timers.Cancel(c.handshakeTimerID)
	c.issPeer = seg.Seq
	c.rcvBuf = newRecvBuffer(seg.Seq + 1)
	c.sndBuf = newSendBuffer(c.opts.Window, c.opts.PayloadMax, c.issLocal+1)
	c.state = Established
	c.sendSegment(&Segment{Type: DATAACK, Ack: c.rcvBuf.rcvNxt})
	c.logger.Printf("established (active)")
	c.signalConnect(nil)
}

func (c *Connection) handleSynRcvd(seg *Segment) {
	switch seg.Type {
	case SYN:
		// Duplicate SYN while still completing the handshake: answer
		// idempotently from the cached SYN_ACK.
		c.sendSegment(c.cachedSynAck)
	case DATAACK, SYNACK, FINACK:
		if seg.Ack != c.issLocal+1 {
			return
		}
		c.timers.Cancel(c.handshakeTimerID)
		c.sndBuf = newSendBuffer(c.opts.Window, c.opts.PayloadMax, c.issLocal+1)
		c.state = Established
		c.logger.Printf("established (passive)")
		c.socket.completeAccept(c)
	}
}

func (c *Connection) handleEstablished(seg *Segment) {
	switch seg.Type {
	case SYN:
		// Gap-fill per spec.md §9: a duplicate SYN in ESTABLISHED is
		// re-answered from the cached SYN_ACK rather than dropped.
		if c.cachedSynAck != nil {
			c.sendSegment(c.cachedSynAck)
		}
	case DATA:
		c.handleData(seg)
	case DATAACK:
		c.handleAck(seg.Ack)
	case FIN:
		c.handleFin(seg)
	}
}

func (c *Connection) handleData(seg *Segment) {
	out := c.rcvBuf.Accept(seg.Seq, seg.Payload, c.opts.PayloadMax)
	c.sendSegment(&Segment{Type: DATAACK, Ack: out.AckToSend})
	if out.Accepted && out.Message != nil {
		c.deliverMessage(out.Message)
	}
}

func (c *Connection) handleAck(ack uint32) {
	if c.sndBuf == nil {
		return
	}
	res := c.sndBuf.HandleAck(ack, time.Now())
	if !res.Advanced {
		return // duplicate or stale ACK: counted by the send buffer, no fast retransmit
	}
	for _, slot := range res.Removed {
		c.timers.Cancel(slot.timerID)
	}
	for _, r := range res.RTTSamples {
		c.rtt.Sample(r)
	}
}

func (c *Connection) handleFin(seg *Segment) {
	c.state = CloseWait
	finAck := &Segment{Type: FINACK, Ack: seg.Seq + 1}
	c.cachedFinalAck = finAck
	c.sendSegment(finAck)
	c.signalEOF()
}

func (c *Connection) handleFinWait(seg *Segment) {
	if seg.Type != FINACK {
		// DATA in FIN_WAIT: gap-fill per spec.md §9 chooses drop, since
		// the active side already declared end-of-output.
		return
	}
	c.timers.Cancel(c.handshakeTimerID)
	finalAck := &Segment{Type: DATAACK, Ack: seg.Seq + 1}
	c.cachedFinalAck = finalAck
	c.sendSegment(finalAck)
	c.state = TimeWait
	c.timers.Arm(TimerTimeWait, 0, c.opts.TimeWait)
}

func (c *Connection) handleTimeWait(seg *Segment) {
	if seg.Type == FIN || seg.Type == FINACK {
		if c.cachedFinalAck != nil {
			c.sendSegment(c.cachedFinalAck)
		}
	}
}

func (c *Connection) handleTimers() {
	for _, f := range c.timers.PollExpired(time.Now()) {
		switch f.Kind {
		case TimerRetransmit:
			c.onRetransmitTimer(f.Payload)
		case TimerHandshakeRetry:
			c.onHandshakeRetry()
		case TimerTimeWait:
			c.onTimeWaitExpire()
		}
	}
}

func (c *Connection) onRetransmitTimer(seq uint32) {
	slot, ok := c.sndBuf.SlotBySeq(seq)
	if !ok {
		return // already acknowledged
	}
	if slot.retries >= c.opts.MaxRetries {
		c.teardown(newErr(PeerUnreachable, fmt.Sprintf("seq %d exceeded %d retries", seq, c.opts.MaxRetries)))
		return
	}
	slot.retries++
	c.sendSegment(&Segment{Type: DATA, Seq: slot.seq, Payload: slot.payload})
	c.sndBuf.MarkSent(slot, time.Now())
	slot.timerID = c.timers.Arm(TimerRetransmit, slot.seq, c.rtt.Backoff())
}

func (c *Connection) onHandshakeRetry() {
	c.handshakeRetriesLeft--
	if c.handshakeRetriesLeft <= 0 {
		switch c.state {
		case SynSent:
			c.teardown(newErr(ConnectTimeout, "handshake retries exhausted"))
		case FinWait:
			c.teardown(newErr(PeerUnreachable, "peer never acknowledged FIN"))
		default:
			c.teardown(newErr(ConnectTimeout, "handshake retries exhausted"))
		}
		return
	}
	switch c.state {
	case SynSent:
		c.sendSegment(&Segment{Type: SYN, Seq: c.issLocal})
	case SynRcvd:
		c.sendSegment(c.cachedSynAck)
	case FinWait:
		c.sendSegment(&Segment{Type: FIN, Seq: c.finSeq})
	default:
		return
	}
	c.handshakeTimerID = c.timers.Arm(TimerHandshakeRetry, 0, c.rtt.Backoff())
}

func (c *Connection) onTimeWaitExpire() {
	c.teardown(nil)
}

// admitPending pushes as many queued sendto chunks into the send
// buffer as the window currently admits, transmitting each one as it
// is admitted and replying to fully-admitted requests in order.
func (c *Connection) admitPending() {
	for len(c.pendingSends) > 0 {
		p := c.pendingSends[0]
		for p.idx < len(p.chunks) {
			slot, err := c.sndBuf.EnqueueChunk(p.chunks[p.idx], p.final[p.idx])
			if err != nil {
				return // window full; resume on the next event that frees room
			}
			p.idx++
			c.transmitSlot(slot)
		}
		p.reply <- nil
		c.pendingSends = c.pendingSends[1:]
	}
}

func (c *Connection) transmitSlot(slot *sendSlot) {
	now := time.Now()
	c.sndBuf.MarkSent(slot, now)
	c.sendSegment(&Segment{Type: DATA, Seq: slot.seq, Payload: slot.payload})
	slot.timerID = c.timers.Arm(TimerRetransmit, slot.seq, c.rtt.RTO())
}

func (c *Connection) handleMailbox(req *mailboxRequest) {
	switch req.op {
	case opSend:
		c.handleSendRequest(req)
	case opClose:
		c.handleCloseRequest(req)
	}
}

func (c *Connection) handleSendRequest(req *mailboxRequest) {
	if c.state != Established {
		req.reply <- newErr(NotConnected, "sendto outside ESTABLISHED")
		return
	}
	chunks := fragmentMessage(req.payload, c.opts.PayloadMax)
	finals := make([]bool, len(chunks))
	finals[len(finals)-1] = true
	if c.opts.Nonblock && !c.sndBuf.RoomFor(len(chunks)) {
		req.reply <- ErrWouldBlock
		return
	}
	c.pendingSends = append(c.pendingSends, &pendingSend{chunks: chunks, final: finals, reply: req.reply})
}

func (c *Connection) handleCloseRequest(req *mailboxRequest) {
	switch c.state {
	case Established:
		c.failPendingSends(ErrConnectionClosed)
		c.finSeq = c.sndBuf.sndNxt
		c.sendSegment(&Segment{Type: FIN, Seq: c.finSeq})
		c.state = FinWait
		c.handshakeRetriesLeft = c.opts.HandshakeRetries
		c.handshakeTimerID = c.timers.Arm(TimerHandshakeRetry, 0, c.rtt.RTO())
		req.reply <- nil
	case CloseWait:
		c.teardown(nil)
		req.reply <- nil
	case Closed, TimeWait:
		req.reply <- nil
	default:
		c.failPendingSends(ErrConnectionClosed)
		c.teardown(nil)
		req.reply <- nil
	}
}

func (c *Connection) failPendingSends(err error) {
	for _, p := range c.pendingSends {
		p.reply <- err
	}
	c.pendingSends = nil
}

func (c *Connection) deliverMessage(msg []byte) {
	c.inbox <- msg
}

func (c *Connection) signalEOF() {
	if !c.peerClosed {
		c.peerClosed = true
		close(c.eofSignal)
	}
}

func (c *Connection) signalConnect(err error) {
	if c.connectReply == nil {
		return
	}
	select {
	case c.connectReply <- err:
	default:
	}
}

// teardown releases the connection: it moves to CLOSED, fails any
// callers still waiting on it, and unregisters it from the socket.
// Pending timers die with the connection's TimerScheduler — there is
// nothing left to cancel them against once run() returns.
func (c *Connection) teardown(err error) {
	c.state = Closed
	c.closedErr = err
	c.failPendingSends(errOrClosed(err))
	c.signalConnect(err)
	c.socket.unregister(c)
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return ErrConnectionClosed
}

func (c *Connection) sendSegment(seg *Segment) {
	elem, buf, err := c.socket.pool.acquireScratch()
	if err != nil {
		c.logger.Printf("pool acquire failed: %v", err)
		return
	}
	n := seg.EncodeInto(buf)
	if err := c.socket.transport.Send(c.remote, buf[:n]); err != nil {
		c.logger.Printf("send %s to %s failed: %v", seg.Type, c.remote, err)
	}
	c.socket.pool.release(elem)
}

// Send hands msg to the connection's send buffer as a single message,
// blocking (or returning WouldBlock, under SO_NONBLOCK) while the
// window has no room.
func (c *Connection) Send(msg []byte) error {
	reply := make(chan error, 1)
	select {
	case c.mailbox <- &mailboxRequest{op: opSend, payload: msg, reply: reply}:
	case <-c.doneSignal:
		return c.closedOrDefault()
	}
	select {
	case err := <-reply:
		return err
	case <-c.doneSignal:
		return c.closedOrDefault()
	}
}

// Recv blocks until a complete reassembled message is available, or
// returns ConnectionClosed once the peer's FIN has drained all data.
func (c *Connection) Recv() ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.eofSignal:
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
			return nil, ErrConnectionClosed
		}
	case <-c.doneSignal:
		return nil, c.closedOrDefault()
	}
}

// Close initiates FIN if this side is the active closer, or releases
// a passive connection already in CLOSE_WAIT.
func (c *Connection) Close() error {
	reply := make(chan error, 1)
	select {
	case c.mailbox <- &mailboxRequest{op: opClose, reply: reply}:
	case <-c.doneSignal:
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-c.doneSignal:
		return nil
	}
}

func (c *Connection) closedOrDefault() error {
	if c.closedErr != nil {
		return c.closedErr
	}
	return ErrConnectionClosed
}

// RemoteAddr reports the peer address this connection talks to.
func (c *Connection) RemoteAddr() *net.UDPAddr {
	return c.remote
}
