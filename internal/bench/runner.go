// Package bench runs one benchmark's state machine on its own goroutine and
// carries out the side effects its events ask for.
package bench

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/cogbench/internal/engine"
	"github.com/DoyleJ11/cogbench/internal/store"
	"github.com/DoyleJ11/cogbench/internal/types"
	wire "github.com/DoyleJ11/cogbench/pkg/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("runner stopped")

const sinkTimeout = 10 * time.Second

// Sender delivers encoded peer messages to every connected peer.
type Sender interface {
	Broadcast(payload []byte, reliable bool) error
}

type Deps struct {
	Role    engine.Role
	Palette engine.Palette
	Sender  Sender
	Sink    store.Sink
	Clock   clockwork.Clock
	Log     *zap.Logger
}

type Msg interface{ isRunnerMsg() }

// Local is a command from this device's UI. Reply, when set, receives the
// result of applying it.
type Local struct {
	Cmd   engine.Command
	Reply chan error
}

func (Local) isRunnerMsg() {}

type FromPeer struct {
	Msg  wire.Message
	From string
}

func (FromPeer) isRunnerMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan Update
}

func (Subscribe) isRunnerMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isRunnerMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRunnerMsg() {}

type Shutdown struct{}

func (Shutdown) isRunnerMsg() {}

type UpdateKind string

const (
	UpdateState    UpdateKind = "state"
	UpdateResponse UpdateKind = "response"
)

type Update struct {
	Kind     UpdateKind
	Version  int
	State    engine.State
	Response *engine.Response
}

type View struct {
	Name           string
	Version        int
	NumSubscribers int
	State          engine.State
}

type Runner struct {
	name    string
	inbox   chan Msg
	state   engine.State
	version int
	subs    map[string]chan Update
	deps    Deps
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRunner(parent context.Context, name string, deps Deps) *Runner {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Sink == nil {
		deps.Sink = store.NewMemorySink()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	r := &Runner{
		name:   name,
		inbox:  make(chan Msg, 64),
		state:  engine.NewEmptyState(deps.Role, deps.Palette),
		subs:   make(map[string]chan Update),
		deps:   deps,
		log:    deps.Log.Named("bench").With(zap.String("benchmark", name), zap.String("role", string(deps.Role))),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go r.loop()
	return r
}

func (r *Runner) Name() string { return r.name }

// Inbox exposes the inbox so the hub and the UI stream can post messages.
func (r *Runner) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the runner goroutine has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Do applies a local command and waits for the result.
func (r *Runner) Do(ctx context.Context, cmd engine.Command) error {
	reply := make(chan error, 1)
	if err := r.Post(ctx, Local{Cmd: cmd, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

// View returns a copy of the runner's state.
func (r *Runner) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Post(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-r.done:
		return View{}, ErrStopped
	}
}

// Post queues m for the runner. It fails once the runner has stopped.
func (r *Runner) Post(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Subscribe:
				r.subs[msg.ID] = msg.Outbox
				r.deliver(msg.ID, msg.Outbox, r.snapshot())

			case Unsubscribe:
				delete(r.subs, msg.ID)

			case Local:
				err := r.apply(msg.Cmd)
				if err != nil {
					r.log.Debug("command rejected", zap.String("command", string(msg.Cmd.Type)), zap.Error(err))
				}
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case FromPeer:
				cmd, err := types.FromPeer(msg.Msg)
				if err == nil {
					err = r.apply(cmd)
				}
				if err != nil {
					r.log.Warn("peer message rejected",
						zap.String("from", msg.From),
						zap.String("type", string(msg.Msg.Type)),
						zap.Error(err))
				}

			case GetState:
				msg.Reply <- View{
					Name:           r.name,
					Version:        r.version,
					NumSubscribers: len(r.subs),
					State:          r.state,
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

// apply runs one command through the engine and then performs the side
// effects of its events in order.
func (r *Runner) apply(cmd engine.Command) error {
	cmd.At = r.deps.Clock.Now()
	events, next, err := engine.Apply(r.state, cmd)
	if err != nil {
		return err
	}
	r.state = next
	r.version++

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtStateBroadcast, engine.EvtSelectionSubmitted:
			r.send(ev)
		case engine.EvtResponseRecorded:
			r.publish(Update{Kind: UpdateResponse, Version: r.version, Response: ev.Response})
		case engine.EvtPathCompleted:
			r.persistPath(ev)
		case engine.EvtSessionCompleted:
			r.flush()
		}
	}

	r.publish(r.snapshot())
	return nil
}

func (r *Runner) send(ev engine.Event) {
	m, ok := types.ToPeer(r.name, ev)
	if !ok {
		return
	}
	payload, err := wire.Encode(m)
	if err != nil {
		r.log.Error("encode peer message", zap.String("type", string(m.Type)), zap.Error(err))
		return
	}
	if r.deps.Sender == nil {
		return
	}
	if err := r.deps.Sender.Broadcast(payload, true); err != nil {
		r.log.Warn("broadcast failed", zap.String("type", string(m.Type)), zap.Error(err))
	}
}

func (r *Runner) persistPath(ev engine.Event) {
	key := store.PathKey{
		Benchmark:  r.name,
		Mode:       string(ev.Screen),
		ColorIndex: ev.ColorIndex,
		UserID:     ev.UserID,
	}
	ctx, cancel := context.WithTimeout(r.ctx, sinkTimeout)
	defer cancel()
	if err := r.deps.Sink.AppendPath(ctx, key, ev.Path); err != nil {
		r.log.Error("persist path", zap.Stringer("key", key), zap.Error(err))
	}
}

// flush writes every held response, one collection per benchmark, mode and
// user. Collections that were written are acknowledged and dropped from the
// state; the rest wait for the next flush.
func (r *Runner) flush() {
	if len(r.state.Responses) == 0 {
		return
	}

	var keys []store.CollectionKey
	groups := make(map[store.CollectionKey][]engine.Response)
	for _, resp := range r.state.Responses {
		key := store.CollectionKey{Benchmark: r.name, Mode: string(resp.Mode), UserID: resp.UserID}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], resp)
	}

	var acked []int
	for _, key := range keys {
		ctx, cancel := context.WithTimeout(r.ctx, sinkTimeout)
		err := r.deps.Sink.AppendResponses(ctx, key, groups[key])
		cancel()
		if err != nil {
			r.log.Error("persist responses, keeping them for the next flush",
				zap.Stringer("key", key),
				zap.Int("count", len(groups[key])),
				zap.Error(err))
			continue
		}
		for _, resp := range groups[key] {
			acked = append(acked, resp.Seq)
		}
		r.log.Info("responses persisted", zap.Stringer("key", key), zap.Int("count", len(groups[key])))
	}
	if len(acked) == 0 {
		return
	}

	_, next, err := engine.Apply(r.state, engine.Command{Type: engine.CmdAcknowledgeFlush, Seqs: acked})
	if err != nil {
		r.log.Error("acknowledge flush", zap.Error(err))
		return
	}
	r.state = next
}

func (r *Runner) snapshot() Update {
	return Update{Kind: UpdateState, Version: r.version, State: r.state}
}

func (r *Runner) publish(u Update) {
	for id, ch := range r.subs {
		r.deliver(id, ch, u)
	}
}

// deliver never blocks; a subscriber that cannot keep up is dropped.
func (r *Runner) deliver(id string, ch chan Update, u Update) {
	select {
	case ch <- u:
	default:
		r.log.Warn("dropping slow subscriber", zap.String("subscriber", id))
		close(ch)
		delete(r.subs, id)
	}
}

func (r *Runner) shutdown() {
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.cancel()
}
