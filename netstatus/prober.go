package netstatus

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jmgilman/go/sitecache/logging"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober is a Monitor that periodically dials a TCP address. A successful
// dial means online.
type Prober struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	logger   *logging.Logger

	state *Static

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithInterval sets the time between probes.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout bounds a single dial.
func WithTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialFunc replaces the dialer.
func WithDialFunc(fn DialFunc) ProberOption {
	return func(p *Prober) {
		if fn != nil {
			p.dial = fn
		}
	}
}

// WithLogger sets the logger used to report state changes.
func WithLogger(logger *logging.Logger) ProberOption {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithInitialState sets the state reported before the first probe.
func WithInitialState(online bool) ProberOption {
	return func(p *Prober) {
		p.state = NewStatic(online)
	}
}

// NewProber creates a prober for address (host:port). It reports online
// until the first probe says otherwise.
func NewProber(address string, opts ...ProberOption) *Prober {
	var d net.Dialer
	p := &Prober{
		address:  address,
		interval: defaultProbeInterval,
		timeout:  defaultProbeTimeout,
		dial:     d.DialContext,
		logger:   logging.NewNop(),
		state:    NewStatic(true),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Online reports the result of the last probe.
func (p *Prober) Online() bool { return p.state.Online() }

// Subscribe registers fn for state changes.
func (p *Prober) Subscribe(fn func(online bool)) func() { return p.state.Subscribe(fn) }

// Probe dials once, records the outcome and returns it.
// A probe aborted by cancellation of ctx leaves the state unchanged.
func (p *Prober) Probe(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := true
	conn, err := p.dial(dialCtx, "tcp", p.address)
	if err != nil {
		if ctx.Err() != nil {
			return p.state.Online()
		}
		online = false
	} else {
		_ = conn.Close()
	}

	if online != p.state.Online() {
		p.logger.Info(ctx, "network status changed", "online", online, "address", p.address)
	}
	p.state.SetOnline(online)
	return online
}

// Start probes immediately and then on every interval until ctx is done or
// Stop is called. Calling Start on a running prober is a no-op.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.Probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

var _ Monitor = (*Prober)(nil)
