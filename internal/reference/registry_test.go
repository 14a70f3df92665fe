package reference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesage/pagesage/internal/page"
	"github.com/pagesage/pagesage/internal/pubsub"
)

const registryHTML = `<html><body>
<p>The tide rises twice a day along most coastlines.</p>
<p>Spring tides occur shortly after a new or full moon.</p>
</body></html>`

// countingResolver wraps the real matcher so tests can observe cache misses.
type countingResolver struct {
	inner *page.Matcher
	calls int
}

func (c *countingResolver) FindMatchingElement(key string) *page.Element {
	c.calls++
	return c.inner.FindMatchingElement(key)
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *page.Document, *countingResolver) {
	t.Helper()
	doc := page.NewDocument()
	require.NoError(t, doc.SetHTML(registryHTML, "https://example.com/tides"))
	resolver := &countingResolver{inner: page.NewMatcher(doc)}
	reg := NewRegistry(doc, resolver, opts...)
	t.Cleanup(reg.Shutdown)
	return reg, doc, resolver
}

func collectCommands(ctx context.Context, events <-chan pubsub.Event[HighlightCommand], n int, timeout time.Duration) []HighlightCommand {
	var out []HighlightCommand
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case event := <-events:
			out = append(out, event.Payload)
		case <-deadline:
			return out
		case <-ctx.Done():
			return out
		}
	}
	return out
}

func TestRegistryResolveMemoizesHits(t *testing.T) {
	t.Parallel()
	reg, _, resolver := newTestRegistry(t)

	first := reg.Resolve("tide rises twice")
	require.NotNil(t, first)
	second := reg.Resolve("tide rises twice")
	require.NotNil(t, second)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, resolver.calls, "second lookup must come from the cache")
}

func TestRegistryResolveRetriesMisses(t *testing.T) {
	t.Parallel()
	reg, _, resolver := newTestRegistry(t)

	assert.Nil(t, reg.Resolve("no such phrase anywhere"))
	assert.Nil(t, reg.Resolve("no such phrase anywhere"))
	assert.Equal(t, 2, resolver.calls, "failed lookups are never cached")
	assert.Equal(t, 0, reg.CacheSize())
}

func TestRegistryCacheInvalidatedByNewSnapshot(t *testing.T) {
	t.Parallel()
	reg, doc, resolver := newTestRegistry(t)

	require.NotNil(t, reg.Resolve("Spring tides occur"))
	require.NoError(t, doc.SetHTML(registryHTML, "https://example.com/tides"))

	require.NotNil(t, reg.Resolve("Spring tides occur"))
	assert.Equal(t, 2, resolver.calls, "stale cache entry must be re-resolved")
}

func TestRegistryActivateTogglesOff(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t, WithTransition(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := reg.Subscribe(ctx)

	reg.Activate("tide rises twice")
	assert.Equal(t, "tide rises twice", reg.ActiveKey())

	cmds := collectCommands(ctx, events, 1, time.Second)
	require.Len(t, cmds, 1)
	assert.Equal(t, OpApply, cmds[0].Op)
	assert.Equal(t, "tide rises twice", cmds[0].Key)

	// Second activation of the same key clears instead of re-applying.
	reg.Activate("tide rises twice")
	assert.Empty(t, reg.ActiveKey())

	cmds = collectCommands(ctx, events, 2, time.Second)
	require.Len(t, cmds, 2)
	assert.Equal(t, OpFade, cmds[0].Op)
	assert.Equal(t, OpRemove, cmds[1].Op)
	assert.Equal(t, cmds[0].Path, cmds[1].Path)
}

func TestRegistryActivateReplacesPrevious(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t, WithTransition(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := reg.Subscribe(ctx)

	reg.Activate("tide rises twice")
	first := collectCommands(ctx, events, 1, time.Second)
	require.Len(t, first, 1)

	// Activating a new key before the old transition finishes must flush the
	// old removal so no half-faded style lingers.
	reg.Activate("Spring tides occur")
	assert.Equal(t, "Spring tides occur", reg.ActiveKey())

	cmds := collectCommands(ctx, events, 3, time.Second)
	require.Len(t, cmds, 3)
	assert.Equal(t, OpFade, cmds[0].Op)
	assert.Equal(t, first[0].Path, cmds[0].Path)
	assert.Equal(t, OpApply, cmds[1].Op)
	assert.Equal(t, OpRemove, cmds[2].Op)
	assert.Equal(t, first[0].Path, cmds[2].Path)
}

func TestRegistryUnresolvedActivateLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)

	reg.Activate("tide rises twice")
	require.Equal(t, "tide rises twice", reg.ActiveKey())

	reg.Activate("phrase that matches nothing at all")
	assert.Equal(t, "tide rises twice", reg.ActiveKey(), "failed activation must not clear the current highlight")
}

func TestRegistryResetDropsCacheAndHighlight(t *testing.T) {
	t.Parallel()
	reg, _, resolver := newTestRegistry(t, WithTransition(10*time.Millisecond))

	reg.Activate("tide rises twice")
	require.Equal(t, 1, reg.CacheSize())

	reg.Reset()
	assert.Empty(t, reg.ActiveKey())
	assert.Equal(t, 0, reg.CacheSize())

	reg.Resolve("tide rises twice")
	assert.Equal(t, 2, resolver.calls, "reset must force re-resolution")
}

func TestRegistryScrollAnchor(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t, WithAnchorCadence(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := reg.Subscribe(ctx)

	reg.Activate("tide rises twice")
	apply := collectCommands(ctx, events, 1, time.Second)
	require.Len(t, apply, 1)

	reg.SetStreaming(true)
	scrolls := collectCommands(ctx, events, 2, time.Second)
	require.Len(t, scrolls, 2)
	for _, cmd := range scrolls {
		assert.Equal(t, OpScroll, cmd.Op)
		assert.Equal(t, apply[0].Path, cmd.Path)
	}

	reg.SetStreaming(false)
	time.Sleep(50 * time.Millisecond)

	// Drain anything that was already in flight, then verify silence.
	drainCtx, drainCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer drainCancel()
	_ = collectCommands(drainCtx, events, 100, 60*time.Millisecond)

	late := collectCommands(ctx, events, 1, 80*time.Millisecond)
	assert.Empty(t, late, "anchor must stop once streaming ends")
}

func TestRegistryAnchorSilentWithoutActiveHighlight(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t, WithAnchorCadence(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := reg.Subscribe(ctx)

	reg.SetStreaming(true)
	cmds := collectCommands(ctx, events, 1, 80*time.Millisecond)
	assert.Empty(t, cmds, "nothing to anchor without an active highlight")
}
