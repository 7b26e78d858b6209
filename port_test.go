package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetPort_OwnershipMove(t *testing.T) {
	store := NewTokenStore(nil)
	p := NewPort("out", 1)

	SetPort(store, p, OwnershipMove, 42, nil)

	require.True(t, p.IsPresent)
	require.Equal(t, 42, p.Value)
	require.Nil(t, p.Token)
}

func TestSetPort_OwnershipCopy_UsesCopyConstructor(t *testing.T) {
	store := NewTokenStore(nil)
	p := NewPort("out", 1)
	p.CopyConstructor = func(v any) any {
		s := v.([]int)
		cp := make([]int, len(s))
		copy(cp, s)
		return cp
	}

	original := []int{1, 2, 3}
	SetPort(store, p, OwnershipCopy, original, nil)

	got := p.Value.([]int)
	require.Equal(t, original, got)
	original[0] = 99
	require.Equal(t, 1, got[0], "copy constructor must produce an independent slice")
}

func TestSetPort_OwnershipForward_AttachesExistingToken(t *testing.T) {
	store := NewTokenStore(nil)
	p := NewPort("out", 1)
	tok := store.Create("int")
	store.InitializeWithValue(tok, 7, 1)

	SetPort(store, p, OwnershipForward, nil, tok)

	require.Same(t, tok, p.Token)
	require.Equal(t, 7, p.Value)
}

func TestSetPort_OwnershipAlloc_SeedsRefCountFromDestinations(t *testing.T) {
	store := NewTokenStore(nil)
	p := NewPort("out", 3)

	SetPort(store, p, OwnershipAlloc, "hello", nil)

	require.NotNil(t, p.Token)
	require.Equal(t, int64(3), p.Token.refCount.Load())
}

func TestResetPort_UnrefsTokenAndClearsPresence(t *testing.T) {
	store := NewTokenStore(nil)
	p := NewPort("out", 1)
	SetPort(store, p, OwnershipAlloc, "x", nil)

	resetPort(store, p)

	require.False(t, p.IsPresent)
	require.Nil(t, p.Token)
	require.Nil(t, p.Value)
}

// TestRuntime_ReactionCtxSetPort_ReleasedByFinishStep covers the FINISH_STEP
// port-release wiring (§4.5, §4.6, invariant 6): a port set via
// ReactionCtx.SetPort during one logical step must have IsPresent cleared and
// its token unref'd before the reaction attached to the following tag runs.
func TestRuntime_ReactionCtxSetPort_ReleasedByFinishStep(t *testing.T) {
	rt := New(WithWorkers(2))

	out := NewPort("out", 1)

	var mu sync.Mutex
	var sawPresentAtSecondTag bool
	var sawTokenAtSecondTag *Token

	self := NewReactor("r", nil)
	producer := &Reaction{
		Name: "produce",
		Self: self,
		Body: func(ctx *ReactionCtx) {
			tok := rt.Tokens().Create("out")
			rt.Tokens().InitializeWithValue(tok, 7, 1)
			ctx.SetPort(out, OwnershipForward, nil, tok)
		},
	}
	checker := &Reaction{
		Name: "check",
		Self: self,
		Body: func(ctx *ReactionCtx) {
			mu.Lock()
			sawPresentAtSecondTag = out.IsPresent
			sawTokenAtSecondTag = out.Token
			mu.Unlock()
		},
	}

	producerTimer := NewTrigger("t1", KindTimer)
	producerTimer.Reactions = []*Reaction{producer}
	checkTimer := NewTrigger("t2", KindTimer)
	checkTimer.Offset = time.Millisecond
	checkTimer.Reactions = []*Reaction{checker}

	rt.InitializeTriggerObjects(producerTimer, checkTimer)
	rt.StartTimers()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.False(t, sawPresentAtSecondTag, "FINISH_STEP must reset IsPresent before the next tag")
	require.Nil(t, sawTokenAtSecondTag, "FINISH_STEP must unref and clear the token before the next tag")
}
