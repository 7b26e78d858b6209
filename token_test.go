package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenStore_RefUnref_DestroysOnZero(t *testing.T) {
	store := NewTokenStore(nil)
	destroyed := 0

	tok := store.Create("int")
	store.InitializeWithValue(tok, 42, 1)
	tok.OkToFree = FreeTokenAndValue
	tok.Destructor = func(any) { destroyed++ }

	Ref(tok)
	require.Equal(t, int64(2), tok.refCount.Load())

	store.Unref(tok)
	require.Equal(t, 0, destroyed, "destructor must not run while refs remain")

	store.Unref(tok)
	require.Equal(t, 1, destroyed)
}

func TestTokenStore_Unref_NegativePanics(t *testing.T) {
	store := NewTokenStore(nil)
	tok := store.Create("int")
	store.Unref(tok)
	require.Panics(t, func() { store.Unref(tok) })
}

func TestTokenStore_Unref_TokenOnlyKeepsValue(t *testing.T) {
	store := NewTokenStore(nil)
	destroyed := false
	tok := store.Create("buf")
	tok.OkToFree = FreeTokenOnly
	tok.Destructor = func(any) { destroyed = true }
	store.Unref(tok)
	require.False(t, destroyed, "token_only must not destroy the caller-owned value")
}

func TestTokenStore_DestructorPanicReported(t *testing.T) {
	var got []Tracepoint
	sink := sinkFunc(func(tp Tracepoint) { got = append(got, tp) })

	store := NewTokenStore(sink)
	tok := store.Create("boom")
	tok.OkToFree = FreeTokenAndValue
	tok.Destructor = func(any) { panic("kaboom") }

	require.NotPanics(t, func() { store.Unref(tok) })
	require.Len(t, got, 1)
	require.Equal(t, EventDestructorPanic, got[0].Type)
}

// sinkFunc adapts a function to the Sink interface for tests.
type sinkFunc func(Tracepoint)

func (f sinkFunc) Tracepoint(tp Tracepoint) { f(tp) }
