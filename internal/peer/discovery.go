package peer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// Info is what discovery learns about a peer.
type Info struct {
	ID   ID
	Name string
	Addr string // host:port of the peer's link endpoint
}

// Discoverer advertises this device and reports devices it finds.
type Discoverer interface {
	// Advertise publishes self until ctx is done or stop is called.
	Advertise(ctx context.Context, self Identity, port int) (stop func(), err error)
	// Browse calls found for every peer seen until ctx is done.
	Browse(ctx context.Context, found func(Info)) error
}

// MDNS discovers peers with multicast DNS under one service type.
type MDNS struct {
	Service string
	Domain  string
	log     *zap.Logger
}

func NewMDNS(service, domain string, log *zap.Logger) *MDNS {
	if log == nil {
		log = zap.NewNop()
	}
	if domain == "" {
		domain = "local."
	}
	return &MDNS{Service: service, Domain: domain, log: log.Named("mdns")}
}

func (m *MDNS) Advertise(ctx context.Context, self Identity, port int) (func(), error) {
	server, err := zeroconf.Register(
		string(self.ID),
		m.Service,
		m.Domain,
		port,
		[]string{"id=" + string(self.ID), "name=" + self.DisplayName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	m.log.Info("advertising",
		zap.String("service", m.Service),
		zap.String("peer_id", string(self.ID)),
		zap.Int("port", port))

	stopped := make(chan struct{})
	stop := func() {
		select {
		case <-stopped:
		default:
			close(stopped)
			server.Shutdown()
		}
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-stopped:
		}
	}()
	return stop, nil
}

func (m *MDNS) Browse(ctx context.Context, found func(Info)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("init mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if entry == nil {
				continue
			}
			info, ok := infoFromEntry(entry)
			if !ok {
				m.log.Debug("ignoring incomplete entry", zap.String("instance", entry.Instance))
				continue
			}
			found(info)
		}
	}()

	if err := resolver.Browse(ctx, m.Service, m.Domain, entries); err != nil {
		return fmt.Errorf("browse mdns: %w", err)
	}
	<-ctx.Done()
	return nil
}

func infoFromEntry(e *zeroconf.ServiceEntry) (Info, bool) {
	if e == nil || e.Port == 0 {
		return Info{}, false
	}
	txt := parseTXT(e.Text)
	id := txt["id"]
	if id == "" {
		id = e.Instance
	}
	if id == "" {
		return Info{}, false
	}

	host := dialHost(e)
	if host == "" {
		return Info{}, false
	}

	return Info{
		ID:   ID(id),
		Name: txt["name"],
		Addr: net.JoinHostPort(host, strconv.Itoa(e.Port)),
	}, true
}

// dialHost picks an address to dial. Link-local IPv6 needs a zone the
// browser does not report, so those fall through to the host name.
func dialHost(e *zeroconf.ServiceEntry) string {
	if len(e.AddrIPv4) > 0 {
		return e.AddrIPv4[0].String()
	}
	for _, ip := range e.AddrIPv6 {
		if !ip.IsLinkLocalUnicast() {
			return ip.String()
		}
	}
	return strings.TrimSuffix(e.HostName, ".")
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// StaticDiscoverer reports a fixed set of peers and advertises nothing.
type StaticDiscoverer struct {
	Peers []Info
}

func (s StaticDiscoverer) Advertise(context.Context, Identity, int) (func(), error) {
	return func() {}, nil
}

func (s StaticDiscoverer) Browse(ctx context.Context, found func(Info)) error {
	for _, p := range s.Peers {
		found(p)
	}
	<-ctx.Done()
	return nil
}
