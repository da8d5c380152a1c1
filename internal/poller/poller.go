// Package poller watches the conversion status of a set of files by
// periodically reading it from the server.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/model"
)

const DefaultInterval = 2 * time.Second

var ErrRunning = errors.New("poller is already running")

// Snapshot is one status read.
type Snapshot struct {
	Status   string
	Stage    model.Stage
	Progress int
}

// Source reads the current status of a file.
type Source interface {
	Snapshot(ctx context.Context, fileURL string) (Snapshot, error)
}

// Entry is the poller's view of one tracked file. Err holds the last failed
// read and is cleared by the next successful one.
type Entry struct {
	URL      string
	Status   string
	Stage    model.Stage
	Progress int
	Err      error
}

// Terminal reports whether the entry will not be read again. An unknown stage
// counts: nothing on the server moves a file out of it.
func (e Entry) Terminal() bool {
	return e.Stage.Terminal() || e.Stage == model.StageUnknown
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithCallback registers fn for every entry change. fn runs on the poll
// goroutine.
func WithCallback(fn func(Entry)) Option {
	return func(p *Poller) {
		p.callback = fn
	}
}

// WithExitWhenSettled makes Run return once every tracked file is terminal.
func WithExitWhenSettled() Option {
	return func(p *Poller) {
		p.exitWhenSettled = true
	}
}

// Poller owns its ticker. Nothing is shared between pollers; each Run is a
// scoped task that releases the ticker when it returns.
type Poller struct {
	source          Source
	interval        time.Duration
	callback        func(Entry)
	exitWhenSettled bool
	updates         chan Entry

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	cancel  context.CancelFunc
}

func New(source Source, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		interval: DefaultInterval,
		updates:  make(chan Entry, 64),
		entries:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Track adds fileURL in the pending state. Tracking a URL twice is a no-op.
func (p *Poller) Track(fileURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[fileURL]; ok {
		return
	}
	p.entries[fileURL] = &Entry{URL: fileURL, Status: model.StatusPending, Stage: model.StagePending}
	p.order = append(p.order, fileURL)
}

func (p *Poller) Untrack(fileURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[fileURL]; !ok {
		return
	}
	delete(p.entries, fileURL)
	for i, u := range p.order {
		if u == fileURL {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Entries returns the tracked files in tracking order.
func (p *Poller) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.order))
	for _, u := range p.order {
		out = append(out, *p.entries[u])
	}
	return out
}

// Settled reports whether every tracked file has reached a terminal stage.
func (p *Poller) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if !e.Terminal() {
			return false
		}
	}
	return true
}

// Updates delivers entry changes. Sends never block the poll loop; changes
// are dropped while the buffer is full.
func (p *Poller) Updates() <-chan Entry {
	return p.updates
}

// Run polls every interval until ctx is done, Stop is called, or, with
// WithExitWhenSettled, every tracked file is terminal.
func (p *Poller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return ErrRunning
	}
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
			if p.exitWhenSettled && p.Settled() {
				return nil
			}
		}
	}
}

// Running reports whether Run is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Stop ends a running Run. It is safe to call at any time.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Poll reads the status of every non-terminal tracked file once.
func (p *Poller) Poll(ctx context.Context) {
	for _, u := range p.pending() {
		if ctx.Err() != nil {
			return
		}

		snap, err := p.source.Snapshot(ctx, u)
		if err != nil && ctx.Err() != nil {
			return
		}

		entry, changed := p.apply(u, snap, err)
		if !changed {
			continue
		}
		if err != nil {
			slog.Debug("status poll failed", "file_url", u, "error", err)
		}
		p.emit(entry)
	}
}

func (p *Poller) pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var urls []string
	for _, u := range p.order {
		if !p.entries[u].Terminal() {
			urls = append(urls, u)
		}
	}
	return urls
}

func (p *Poller) apply(fileURL string, snap Snapshot, err error) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[fileURL]
	if !ok {
		return Entry{}, false
	}
	before := *e
	if err != nil {
		e.Err = err
	} else {
		e.Status = snap.Status
		e.Stage = snap.Stage
		e.Progress = snap.Progress
		e.Err = nil
	}
	return *e, changed(before, *e)
}

func changed(a, b Entry) bool {
	if a.Status != b.Status || a.Stage != b.Stage || a.Progress != b.Progress {
		return true
	}
	return errText(a.Err) != errText(b.Err)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Poller) emit(e Entry) {
	if p.callback != nil {
		p.callback(e)
	}
	select {
	case p.updates <- e:
	default:
	}
}
