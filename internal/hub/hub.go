package hub

import (
	"context"
	"errors"
	"slices"

	"github.com/DoyleJ11/cogbench/internal/bench"
	wire "github.com/DoyleJ11/cogbench/pkg/types"
	"go.uber.org/zap"
)

var ErrUnknownBenchmark = errors.New("unknown benchmark")
var ErrStopped = errors.New("hub stopped")

type HubMsg interface{ isHubMsg() }

// EnsureRunner replies with the named runner, starting it if needed. The
// reply is nil for names the node was not configured with.
type EnsureRunner struct {
	Name  string
	Reply chan *bench.Runner
}

type GetRunner struct {
	Name  string
	Reply chan *bench.Runner
}

type RemoveRunner struct {
	Name string
}

type ListRunners struct {
	Reply chan []string
}

// Deliver routes one raw peer payload to the runner it names.
type Deliver struct {
	Payload []byte
	From    string
}

type ShutdownHub struct{}

func (EnsureRunner) isHubMsg() {}
func (GetRunner) isHubMsg()    {}
func (RemoveRunner) isHubMsg() {}
func (ListRunners) isHubMsg()  {}
func (Deliver) isHubMsg()      {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	runners map[string]*bench.Runner
	known   []string
	deps    bench.Deps
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub starts a registry for the given benchmark names. Every runner it
// starts shares deps.
func NewHub(parent context.Context, benchmarks []string, deps bench.Deps) *Hub {
	if len(benchmarks) == 0 {
		benchmarks = []string{wire.DefaultBenchmark}
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		runners: make(map[string]*bench.Runner),
		known:   slices.Clone(benchmarks),
		deps:    deps,
		log:     log.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

// Benchmarks lists the names this hub accepts.
func (h *Hub) Benchmarks() []string { return slices.Clone(h.known) }

func (h *Hub) Ensure(ctx context.Context, name string) (*bench.Runner, error) {
	reply := make(chan *bench.Runner, 1)
	if err := h.post(ctx, EnsureRunner{Name: name, Reply: reply}); err != nil {
		return nil, err
	}
	rn, err := h.await(ctx, reply)
	if err != nil {
		return nil, err
	}
	if rn == nil {
		return nil, ErrUnknownBenchmark
	}
	return rn, nil
}

// Get returns the running runner for name, or nil.
func (h *Hub) Get(ctx context.Context, name string) (*bench.Runner, error) {
	reply := make(chan *bench.Runner, 1)
	if err := h.post(ctx, GetRunner{Name: name, Reply: reply}); err != nil {
		return nil, err
	}
	return h.await(ctx, reply)
}

func (h *Hub) List(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.post(ctx, ListRunners{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case names := <-reply:
		return names, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrStopped
	}
}

// Deliver hands a peer payload to the hub for routing.
func (h *Hub) Deliver(payload []byte, from string) {
	if err := h.post(h.ctx, Deliver{Payload: payload, From: from}); err != nil {
		h.log.Debug("dropping peer payload", zap.String("from", from), zap.Error(err))
	}
}

func (h *Hub) post(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrStopped
	}
}

func (h *Hub) await(ctx context.Context, reply chan *bench.Runner) (*bench.Runner, error) {
	select {
	case rn := <-reply:
		return rn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrStopped
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRunner:
				msg.Reply <- h.ensure(msg.Name) // nil for unknown names

			case GetRunner:
				msg.Reply <- h.runners[msg.Name]

			case RemoveRunner:
				if rn := h.runners[msg.Name]; rn != nil {
					h.stop(rn)
					delete(h.runners, msg.Name)
				}

			case ListRunners:
				names := make([]string, 0, len(h.runners))
				for name := range h.runners {
					names = append(names, name)
				}
				slices.Sort(names)
				msg.Reply <- names

			case Deliver:
				h.route(msg)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) ensure(name string) *bench.Runner {
	if rn := h.runners[name]; rn != nil {
		return rn
	}
	if !slices.Contains(h.known, name) {
		return nil
	}
	rn := bench.NewRunner(h.ctx, name, h.deps)
	h.runners[name] = rn
	h.log.Info("runner started", zap.String("benchmark", name))
	return rn
}

// route decodes a peer payload and posts it to its runner. Payloads that do
// not decode or name an unknown benchmark are dropped.
func (h *Hub) route(d Deliver) {
	m, err := wire.Decode(d.Payload)
	if err != nil {
		h.log.Debug("discarding undecodable payload", zap.String("from", d.From), zap.Error(err))
		return
	}
	rn := h.ensure(m.Benchmark)
	if rn == nil {
		h.log.Debug("discarding payload for unknown benchmark",
			zap.String("from", d.From),
			zap.String("benchmark", m.Benchmark))
		return
	}
	select {
	case rn.Inbox() <- bench.FromPeer{Msg: m, From: d.From}:
	case <-rn.Done():
	case <-h.ctx.Done():
	}
}

func (h *Hub) stop(rn *bench.Runner) {
	select {
	case rn.Inbox() <- bench.Shutdown{}:
	case <-rn.Done():
	}
}

func (h *Hub) shutdown() {
	for _, rn := range h.runners {
		h.stop(rn)
	}
	clear(h.runners)
	h.cancel()
}
