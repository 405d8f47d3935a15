package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotto-service/internal/model"
)

type countingLookup struct {
	mu      sync.Mutex
	members map[string]bool
	err     error
	calls   int
}

func (l *countingLookup) GetMembership(_ context.Context, userID string) (*model.Membership, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	hasAccess, ok := l.members[userID]
	if !ok {
		return nil, nil
	}
	return &model.Membership{UserID: userID, HasAccess: hasAccess}, nil
}

func (l *countingLookup) setMember(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members[userID] = true
}

func (l *countingLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestHasAccess(t *testing.T) {
	lookup := &countingLookup{members: map[string]bool{"u1": true, "u2": false}}
	r := NewReader(lookup, time.Minute, discardLogger())
	ctx := context.Background()

	ok, err := r.HasAccess(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasAccess(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, ok, "membership row without access")

	ok, err = r.HasAccess(ctx, "u3")
	require.NoError(t, err)
	assert.False(t, ok, "no membership row")

	ok, err = r.HasAccess(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 3, lookup.callCount())
}

func TestHasAccess_CachesDecisions(t *testing.T) {
	lookup := &countingLookup{members: map[string]bool{"u1": true}}
	r := NewReader(lookup, time.Minute, discardLogger())
	ctx := context.Background()

	for range 5 {
		ok, err := r.HasAccess(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, lookup.callCount())
}

func TestHasAccess_InvalidateAfterGrant(t *testing.T) {
	lookup := &countingLookup{members: map[string]bool{}}
	r := NewReader(lookup, time.Minute, discardLogger())
	ctx := context.Background()

	ok, err := r.HasAccess(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	lookup.setMember("u1")
	ok, _ = r.HasAccess(ctx, "u1")
	assert.False(t, ok, "denial still cached")

	r.Invalidate("u1")
	ok, err = r.HasAccess(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasAccess_NegativeEntriesExpireSooner(t *testing.T) {
	lookup := &countingLookup{members: map[string]bool{}}
	r := NewReader(lookup, 200*time.Millisecond, discardLogger())
	ctx := context.Background()

	ok, _ := r.HasAccess(ctx, "u1")
	assert.False(t, ok)
	lookup.setMember("u1")

	assert.Eventually(t, func() bool {
		ok, err := r.HasAccess(ctx, "u1")
		return err == nil && ok
	}, 150*time.Millisecond, 10*time.Millisecond)
}

func TestHasAccess_ErrorsAreNotCached(t *testing.T) {
	lookup := &countingLookup{members: map[string]bool{"u1": true}, err: errors.New("timeout")}
	r := NewReader(lookup, time.Minute, discardLogger())
	ctx := context.Background()

	_, err := r.HasAccess(ctx, "u1")
	assert.ErrorIs(t, err, model.ErrStorageTransient)

	lookup.mu.Lock()
	lookup.err = nil
	lookup.mu.Unlock()

	ok, err := r.HasAccess(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasAccess_ZeroTTLDisablesCache(t *testing.T) {
	lookup := &countingLookup{members: map[string]bool{"u1": true}}
	r := NewReader(lookup, 0, discardLogger())

	for range 3 {
		_, err := r.HasAccess(context.Background(), "u1")
		require.NoError(t, err)
	}
	r.Invalidate("u1")
	assert.Equal(t, 3, lookup.callCount())
}

// gatedLookup blocks its first call until release is closed, after the
// membership row has already been read.
type gatedLookup struct {
	countingLookup
	started chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  error
}

func newGatedLookup(members map[string]bool) *gatedLookup {
	return &gatedLookup{
		countingLookup: countingLookup{members: members},
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (l *gatedLookup) GetMembership(ctx context.Context, userID string) (*model.Membership, error) {
	m, err := l.countingLookup.GetMembership(ctx, userID)
	first := false
	l.once.Do(func() { first = true })
	if first {
		close(l.started)
		<-l.release
		l.mu.Lock()
		l.ctxErr = ctx.Err()
		l.mu.Unlock()
	}
	return m, err
}

func TestHasAccess_InvalidationDuringLookupIsNotOverwritten(t *testing.T) {
	lookup := newGatedLookup(map[string]bool{})
	r := NewReader(lookup, time.Minute, discardLogger())
	ctx := context.Background()

	done := make(chan bool)
	go func() {
		ok, _ := r.HasAccess(ctx, "u1")
		done <- ok
	}()
	<-lookup.started

	// the grant commits while the lookup still holds the empty row
	lookup.setMember("u1")
	r.Invalidate("u1")
	close(lookup.release)
	assert.False(t, <-done)

	ok, err := r.HasAccess(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, lookup.callCount())
}

func TestHasAccess_CancelledCallerDoesNotFailOthers(t *testing.T) {
	lookup := newGatedLookup(map[string]bool{"u1": true})
	r := NewReader(lookup, time.Minute, discardLogger())

	cancelled, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.HasAccess(cancelled, "u1")
		first <- err
	}()
	<-lookup.started

	type result struct {
		ok  bool
		err error
	}
	second := make(chan result, 1)
	go func() {
		ok, err := r.HasAccess(context.Background(), "u1")
		second <- result{ok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(lookup.release)
	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.ok)

	lookup.mu.Lock()
	defer lookup.mu.Unlock()
	assert.NoError(t, lookup.ctxErr, "shared lookup must not inherit a caller's cancellation")
}
