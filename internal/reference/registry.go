package reference

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pagesage/pagesage/internal/page"
	"github.com/pagesage/pagesage/internal/pubsub"
)

// HighlightOp is one step of the highlight visual contract applied by the
// client.
type HighlightOp string

const (
	// OpApply scrolls the target element to the viewport center and applies
	// the highlight tint and padding.
	OpApply HighlightOp = "apply"
	// OpFade begins the clear transition on the element's style.
	OpFade HighlightOp = "fade"
	// OpRemove strips the highlight style entirely once the transition has
	// played out.
	OpRemove HighlightOp = "remove"
	// OpScroll re-centers the element without touching its style; emitted on
	// the anchor cadence while a generation is streaming.
	OpScroll HighlightOp = "scroll"
)

type HighlightCommand struct {
	Op   HighlightOp `json:"op"`
	Key  string      `json:"key,omitempty"`
	Path string      `json:"path"`
}

const EventHighlightCommand pubsub.EventType = "highlight_command"

// Resolver locates the page element for a citation key. *page.Matcher
// satisfies it.
type Resolver interface {
	FindMatchingElement(key string) *page.Element
}

const (
	defaultTransition    = 300 * time.Millisecond
	defaultAnchorCadence = 200 * time.Millisecond
)

// Registry caches citation-key resolutions for the life of a conversation
// and owns the single active highlight. The mapping to elements is a
// relation, not ownership: the page may drop or mutate an element at any
// time, so cached entries are liveness-checked before reuse.
type Registry struct {
	src      page.TextSource
	resolver Resolver
	broker   *pubsub.Broker[HighlightCommand]

	transition    time.Duration
	anchorCadence time.Duration

	mu          sync.Mutex
	cache       map[string]*page.Element
	activeKey   string
	activeEl    *page.Element
	clearTimer  *time.Timer
	pendingPath string
	anchorStop  chan struct{}
}

type RegistryOption func(*Registry)

// WithTransition overrides the highlight clear transition duration.
func WithTransition(d time.Duration) RegistryOption {
	return func(r *Registry) { r.transition = d }
}

// WithAnchorCadence overrides the scroll-anchor re-centering cadence.
func WithAnchorCadence(d time.Duration) RegistryOption {
	return func(r *Registry) { r.anchorCadence = d }
}

func NewRegistry(src page.TextSource, resolver Resolver, opts ...RegistryOption) *Registry {
	r := &Registry{
		src:           src,
		resolver:      resolver,
		broker:        pubsub.NewBroker[HighlightCommand](),
		transition:    defaultTransition,
		anchorCadence: defaultAnchorCadence,
		cache:         make(map[string]*page.Element),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe delivers the highlight commands the client must apply to the
// page.
func (r *Registry) Subscribe(ctx context.Context) <-chan pubsub.Event[HighlightCommand] {
	return r.broker.Subscribe(ctx)
}

// Resolve returns the element for a citation key, consulting the cache
// first. Successful lookups stay cached for the rest of the conversation;
// failed lookups are retried on every call because a later page mutation may
// make them succeed.
func (r *Registry) Resolve(key string) *page.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(key)
}

func (r *Registry) resolveLocked(key string) *page.Element {
	if el, ok := r.cache[key]; ok {
		if r.src.IsLive(el) {
			return el
		}
		delete(r.cache, key)
	}
	el := r.resolver.FindMatchingElement(key)
	if el != nil {
		r.cache[key] = el
	}
	return el
}

// Activate highlights the element for key. Activating the already-active
// key clears it instead (toggle-off). An unresolved key leaves all state
// untouched; that outcome is reportable but never an error.
func (r *Registry) Activate(key string) {
	r.mu.Lock()

	if key != "" && key == r.activeKey {
		cmds := r.clearActiveLocked()
		r.mu.Unlock()
		r.publish(cmds)
		return
	}

	el := r.resolveLocked(key)
	if el == nil {
		r.mu.Unlock()
		slog.Debug("citation unresolved", "key", key)
		return
	}

	cmds := r.clearActiveLocked()
	r.activeKey = key
	r.activeEl = el
	r.mu.Unlock()

	cmds = append(cmds, HighlightCommand{Op: OpApply, Key: key, Path: el.Path})
	r.publish(cmds)
}

// Toggle is the click entry point; it shares Activate's toggle-off
// semantics.
func (r *Registry) Toggle(key string) {
	r.Activate(key)
}

// Clear removes the active highlight with the smooth transition.
func (r *Registry) Clear() {
	r.mu.Lock()
	cmds := r.clearActiveLocked()
	r.mu.Unlock()
	r.publish(cmds)
}

// clearActiveLocked starts the clear transition for the current highlight
// and schedules the final style removal. Any pending removal from an earlier
// clear is flushed immediately so a rapid re-activation fully supersedes it.
func (r *Registry) clearActiveLocked() []HighlightCommand {
	var cmds []HighlightCommand

	if r.clearTimer != nil {
		if r.clearTimer.Stop() {
			// The previous element was still mid-transition; finish its
			// removal now rather than leaving a half-faded style behind.
			cmds = append(cmds, HighlightCommand{Op: OpRemove, Path: r.pendingPath})
		}
		r.clearTimer = nil
		r.pendingPath = ""
	}

	if r.activeEl == nil {
		return cmds
	}

	path := r.activeEl.Path
	cmds = append(cmds, HighlightCommand{Op: OpFade, Path: path})
	r.pendingPath = path
	r.clearTimer = time.AfterFunc(r.transition, func() {
		r.mu.Lock()
		if r.pendingPath != path {
			r.mu.Unlock()
			return
		}
		r.clearTimer = nil
		r.pendingPath = ""
		r.mu.Unlock()
		r.broker.Publish(EventHighlightCommand, HighlightCommand{Op: OpRemove, Path: path})
	})

	r.activeKey = ""
	r.activeEl = nil
	return cmds
}

// ActiveKey returns the citation key currently highlighted, if any.
func (r *Registry) ActiveKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeKey
}

// SetStreaming starts or stops the scroll anchor. While a generation
// streams, the active element is re-centered on a fixed cadence because the
// growing text reflows the layout around it. The anchor stops the moment
// streaming ends.
func (r *Registry) SetStreaming(streaming bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if streaming {
		if r.anchorStop != nil {
			return
		}
		stop := make(chan struct{})
		r.anchorStop = stop
		go r.anchorLoop(stop)
		return
	}

	if r.anchorStop != nil {
		close(r.anchorStop)
		r.anchorStop = nil
	}
}

func (r *Registry) anchorLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.anchorCadence)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			el := r.activeEl
			live := el != nil && r.src.IsLive(el)
			key := r.activeKey
			r.mu.Unlock()
			if live {
				r.broker.Publish(EventHighlightCommand, HighlightCommand{Op: OpScroll, Key: key, Path: el.Path})
			}
		}
	}
}

// Reset drops every cached resolution and clears the active highlight. The
// conversation store calls this on clear so no stale element reference
// outlives the transcript.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]*page.Element)
	cmds := r.clearActiveLocked()
	r.mu.Unlock()
	r.publish(cmds)
}

// CacheSize returns the number of memoized resolutions.
func (r *Registry) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *Registry) publish(cmds []HighlightCommand) {
	for _, cmd := range cmds {
		r.broker.Publish(EventHighlightCommand, cmd)
	}
}

// Shutdown stops the anchor and closes the command broker.
func (r *Registry) Shutdown() {
	r.SetStreaming(false)
	r.mu.Lock()
	if r.clearTimer != nil {
		r.clearTimer.Stop()
		r.clearTimer = nil
	}
	r.mu.Unlock()
	r.broker.Shutdown()
}
