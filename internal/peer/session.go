package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNotConnected = errors.New("peer not connected")
var ErrSendQueueFull = errors.New("peer send queue full")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type ReceiveFunc func(payload []byte, from ID)
type StateFunc func(id ID, state State)

type Options struct {
	Port          int
	LinkPath      string
	InviteTimeout time.Duration
	WriteTimeout  time.Duration
	SendBuffer    int
}

func DefaultOptions() Options {
	return Options{
		Port:          7350,
		LinkPath:      "/ws",
		InviteTimeout: 60 * time.Second,
		WriteTimeout:  5 * time.Second,
		SendBuffer:    64,
	}
}

type PeerStatus struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Session connects this device to every peer it discovers and relays
// payloads between them. Callbacks run on a single dispatcher goroutine.
type Session struct {
	self Identity
	disc Discoverer
	opts Options
	log  *zap.Logger

	lifecycle sync.Mutex // serializes Connect and Disconnect

	mu        sync.Mutex
	run       *run
	links     map[ID]*conn
	states    map[ID]State
	names     map[ID]string
	addrs     map[ID]string
	onReceive ReceiveFunc
	onState   StateFunc
	wg        sync.WaitGroup
}

// run holds everything that lives between one Connect and Disconnect.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	stop   func()
}

type event struct {
	payload []byte
	from    ID
	state   *State
}

type conn struct {
	id        ID
	initiator ID
	link      *Link
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func (c *conn) close(reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.link.Close(reason)
	})
}

func NewSession(self Identity, disc Discoverer, opts Options, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.LinkPath == "" {
		opts.LinkPath = def.LinkPath
	}
	if opts.InviteTimeout <= 0 {
		opts.InviteTimeout = def.InviteTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	return &Session{
		self:   self,
		disc:   disc,
		opts:   opts,
		log:    log.Named("peer").With(zap.String("self", string(self.ID))),
		links:  make(map[ID]*conn),
		states: make(map[ID]State),
		names:  make(map[ID]string),
		addrs:  make(map[ID]string),
	}
}

func (s *Session) Self() Identity { return s.self }

func (s *Session) OnReceive(fn ReceiveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReceive = fn
}

func (s *Session) OnStateChange(fn StateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Connect starts advertising and browsing. Calling it while connected is a
// no-op. The session outlives ctx's cancellation; use Disconnect to stop it.
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Running() {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop, err := s.disc.Advertise(runCtx, s.self, s.opts.Port)
	if err != nil {
		cancel()
		return fmt.Errorf("advertise: %w", err)
	}

	r := &run{ctx: runCtx, cancel: cancel, events: make(chan event, 256), stop: stop}
	s.mu.Lock()
	s.run = r
	s.wg.Add(1)
	s.mu.Unlock()
	go s.dispatch(r)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return s.disc.Browse(gctx, func(info Info) { s.found(r, info) })
	})
	go func() {
		if err := g.Wait(); err != nil {
			s.log.Error("browsing stopped", zap.Error(err))
		}
	}()

	s.log.Info("session started", zap.Int("port", s.opts.Port))
	return nil
}

// Disconnect stops discovery, closes every link and abandons invitations
// that are still in flight.
func (s *Session) Disconnect() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	s.run = nil
	links := make([]*conn, 0, len(s.links))
	for id, c := range s.links {
		links = append(links, c)
		delete(s.links, id)
	}
	var dropped []ID
	for id, st := range s.states {
		if st != StateDisconnected {
			dropped = append(dropped, id)
		}
		s.states[id] = StateDisconnected
	}
	slices.Sort(dropped)
	s.mu.Unlock()

	r.stop()
	r.cancel()
	for _, c := range links {
		c.close("session ended")
	}
	s.wg.Wait()

	// The dispatcher has exited; report what it left behind, then the teardown.
	s.mu.Lock()
	onState := s.onState
	s.mu.Unlock()
	if onState != nil {
		s.drain(r, onState)
		for _, id := range dropped {
			onState(id, StateDisconnected)
		}
	}

	s.log.Info("session ended", zap.Int("closed_links", len(links)))
	return nil
}

// drain delivers state changes still queued on a finished run.
func (s *Session) drain(r *run, onState StateFunc) {
	for {
		select {
		case ev := <-r.events:
			if ev.state != nil {
				onState(ev.from, *ev.state)
			}
		default:
			return
		}
	}
}

// Send delivers payload to each listed peer. An empty list is a no-op.
// Failures are logged and returned, never retried.
func (s *Session) Send(payload []byte, peers []ID, reliable bool) error {
	if len(peers) == 0 {
		return nil
	}

	var errs error
	for _, id := range peers {
		s.mu.Lock()
		c := s.links[id]
		s.mu.Unlock()
		if c == nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrNotConnected, id))
			continue
		}
		if err := s.enqueue(c, payload, reliable); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send to %s: %w", id, err))
		}
	}

	if errs != nil {
		s.log.Warn("send failed",
			zap.Error(errs),
			zap.Int("peers", len(peers)),
			zap.Bool("reliable", reliable))
	}
	return errs
}

// Broadcast sends to every connected peer.
func (s *Session) Broadcast(payload []byte, reliable bool) error {
	return s.Send(payload, s.ConnectedPeers(), reliable)
}

func (s *Session) enqueue(c *conn, payload []byte, reliable bool) error {
	p := slices.Clone(payload)
	if !reliable {
		select {
		case c.send <- p:
			return nil
		case <-c.done:
			return ErrNotConnected
		default:
			return ErrSendQueueFull
		}
	}

	timer := time.NewTimer(s.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case c.send <- p:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-timer.C:
		return ErrSendQueueFull
	}
}

func (s *Session) ConnectedPeers() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]ID, 0, len(s.links))
	for id := range s.links {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Session) State(id ID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id]
}

func (s *Session) Peers() []PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerStatus, 0, len(s.states))
	for id, st := range s.states {
		out = append(out, PeerStatus{ID: id, Name: s.names[id], State: st.String()})
	}
	slices.SortFunc(out, func(a, b PeerStatus) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (s *Session) found(r *run, info Info) {
	if info.ID == s.self.ID {
		return
	}
	if !s.track(r) {
		return
	}
	go func() {
		defer s.wg.Done()
		s.invite(r, info)
	}()
}

// Invite dials a peer directly, bypassing discovery.
func (s *Session) Invite(info Info) {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return
	}
	s.found(r, info)
}

// track registers a goroutine belonging to r; false once r has ended.
func (s *Session) track(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Session) invite(r *run, info Info) {
	s.mu.Lock()
	if st := s.states[info.ID]; st == StateConnecting || st == StateConnected {
		s.mu.Unlock()
		return
	}
	s.states[info.ID] = StateConnecting
	if info.Name != "" {
		s.names[info.ID] = info.Name
	}
	if info.Addr != "" {
		s.addrs[info.ID] = info.Addr
	}
	s.mu.Unlock()
	s.notify(r, info.ID, StateConnecting)

	s.log.Info("inviting peer", zap.String("peer_id", string(info.ID)), zap.String("addr", info.Addr))

	// fire and forget: no retry once the window closes
	ctx, cancel := context.WithTimeout(r.ctx, s.opts.InviteTimeout)
	link, err := DialLink(ctx, "ws://"+info.Addr+s.opts.LinkPath, s.hello())
	cancel()
	if err != nil {
		s.log.Warn("invitation failed", zap.String("peer_id", string(info.ID)), zap.Error(err))
		s.mu.Lock()
		reset := s.states[info.ID] == StateConnecting
		if reset {
			s.states[info.ID] = StateDisconnected
		}
		s.mu.Unlock()
		if reset {
			s.notify(r, info.ID, StateDisconnected)
		}
		return
	}

	c, ok := s.register(r, link)
	if !ok {
		return
	}
	s.readLoop(r, c)
}

// Accept handles an inbound invitation on the link endpoint. It blocks until
// the link closes.
func (s *Session) Accept(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		http.Error(w, "session not started", http.StatusServiceUnavailable)
		return
	}

	link, err := AcceptLink(w, req, s.hello(), s.opts.InviteTimeout)
	if err != nil {
		s.log.Warn("accept failed", zap.Error(err))
		return
	}
	if ID(link.Remote.PeerID) == s.self.ID {
		_ = link.Close("self")
		return
	}
	s.log.Info("accepted invitation", zap.String("peer_id", link.Remote.PeerID))

	if !s.track(r) {
		_ = link.Close("session ended")
		return
	}
	defer s.wg.Done()

	c, ok := s.register(r, link)
	if !ok {
		return
	}
	s.readLoop(r, c)
}

func (s *Session) hello() Hello {
	return Hello{PeerID: string(s.self.ID), DisplayName: s.self.DisplayName}
}

// register installs a link. When two links to the same peer exist, both ends
// keep the one dialed by the smaller peer ID.
func (s *Session) register(r *run, link *Link) (*conn, bool) {
	id := ID(link.Remote.PeerID)
	initiator := id
	if link.Initiated {
		initiator = s.self.ID
	}
	c := &conn{
		id:        id,
		initiator: initiator,
		link:      link,
		send:      make(chan []byte, s.opts.SendBuffer),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		_ = link.Close("session ended")
		return nil, false
	}
	// same initiator means the peer redialed; the newer link wins
	old := s.links[id]
	if old != nil && old.initiator < c.initiator {
		s.mu.Unlock()
		s.log.Debug("dropping duplicate link", zap.String("peer_id", string(id)))
		_ = link.Close("duplicate link")
		return nil, false
	}
	s.links[id] = c
	wasConnected := s.states[id] == StateConnected
	s.states[id] = StateConnected
	if link.Remote.DisplayName != "" {
		s.names[id] = link.Remote.DisplayName
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if old != nil {
		old.close("superseded")
	}
	go func() {
		defer s.wg.Done()
		s.writeLoop(r, c)
	}()

	if !wasConnected {
		s.log.Info("peer connected", zap.String("peer_id", string(id)), zap.String("name", link.Remote.DisplayName))
		s.notify(r, id, StateConnected)
	}
	return c, true
}

// unregister drops c. A lost link to a peer this side once dialed is
// re-invited a single time; a failed retry leaves it to discovery.
func (s *Session) unregister(r *run, c *conn, lost bool) {
	s.mu.Lock()
	current := s.links[c.id] == c
	if current {
		delete(s.links, c.id)
		s.states[c.id] = StateDisconnected
	}
	retry := Info{ID: c.id, Name: s.names[c.id], Addr: s.addrs[c.id]}
	s.mu.Unlock()

	c.close("")
	if !current {
		return
	}
	s.log.Info("peer disconnected", zap.String("peer_id", string(c.id)), zap.Bool("lost", lost))
	s.notify(r, c.id, StateDisconnected)

	if lost && retry.Addr != "" {
		s.log.Info("re-inviting lost peer", zap.String("peer_id", string(c.id)))
		s.found(r, retry)
	}
}

func (s *Session) readLoop(r *run, c *conn) {
	var lost bool
	defer func() { s.unregister(r, c, lost) }()
	for {
		data, err := c.link.Read(r.ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnsupportedFrame):
				s.log.Error("peer sent an unsupported frame, closing link", zap.String("peer_id", string(c.id)))
			case IsNormalClose(err) || r.ctx.Err() != nil:
			default:
				lost = true
				s.log.Debug("link read ended", zap.String("peer_id", string(c.id)), zap.Error(err))
			}
			return
		}

		select {
		case r.events <- event{payload: data, from: c.id}:
		case <-c.done:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (s *Session) writeLoop(r *run, c *conn) {
	for {
		select {
		case <-c.done:
			return
		case <-r.ctx.Done():
			return
		case p := <-c.send:
			ctx, cancel := context.WithTimeout(r.ctx, s.opts.WriteTimeout)
			err := c.link.Write(ctx, p)
			cancel()
			if err != nil {
				s.log.Warn("write failed, dropping link", zap.String("peer_id", string(c.id)), zap.Error(err))
				c.close("write failed")
				return
			}
		}
	}
}

func (s *Session) notify(r *run, id ID, st State) {
	select {
	case r.events <- event{from: id, state: &st}:
	case <-r.ctx.Done():
	}
}

// dispatch is the one goroutine that runs callbacks.
func (s *Session) dispatch(r *run) {
	defer s.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			s.mu.Lock()
			onReceive, onState := s.onReceive, s.onState
			s.mu.Unlock()

			if ev.state != nil {
				if onState != nil {
					onState(ev.from, *ev.state)
				}
				continue
			}
			if onReceive != nil {
				onReceive(ev.payload, ev.from)
			}
		}
	}
}
