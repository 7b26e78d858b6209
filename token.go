package reactor

import (
	"sync"
	"sync/atomic"
)

// OkToFree describes ownership of a Token's Value relative to the Token
// struct itself, mirroring the three-way split in the reference C runtime.
type OkToFree int

const (
	// FreeNone means neither the value nor the struct should be destroyed by
	// the store; the caller retains ownership of both.
	FreeNone OkToFree = iota
	// FreeTokenOnly means the Token struct is recycled by the store, but the
	// Value was supplied by the caller and must not be destroyed here.
	FreeTokenOnly
	// FreeTokenAndValue means the store owns both the struct and the value;
	// on the final unref the destructor (if any) runs and the struct is
	// recycled.
	FreeTokenAndValue
)

// Destructor releases resources held by a token's Value. A nil Destructor
// means "let the Go garbage collector reclaim it" -- there is no explicit
// free() in this runtime, so a nil Destructor is itself a valid, common
// choice for plain Go values.
type Destructor func(value any)

// CopyConstructor produces an independent copy of value, used by
// copy-semantics port sets (OwnershipCopy calls the Port's CopyConstructor).
type CopyConstructor func(value any) any

// Token is a reference-counted payload carrier attached to events and ports.
//
// Token is safe for concurrent Ref/Unref from multiple goroutines; Create and
// the initial population of Value are expected to happen from a single
// writer (a reaction body, or a scheduling path already holding the
// scheduler lock), per the core's single-writer-per-shape discipline.
type Token struct {
	// Value is the opaque payload. Callers type-assert it to the concrete
	// type the code generator associated with this trigger/port.
	Value any
	// Length is the element count for array-shaped payloads; 1 for scalars.
	Length int
	// Destructor runs on the final Unref, if OkToFree allows it and
	// Destructor is non-nil.
	Destructor Destructor
	// CopyConstructor is carried with the token (SetPort's OwnershipAlloc
	// copies the Port's here); neither the store nor the scheduler calls it.
	CopyConstructor CopyConstructor
	// OkToFree governs whether Unref-to-zero destroys Value, recycles the
	// struct, both, or neither.
	OkToFree OkToFree

	refCount atomic.Int64
	shape    string
}

// shapeOf returns the recycle-pool key for a token. The code generator
// supplies a stable shape string per concrete payload type (e.g. a type
// name); the core never uses reflection on the hot path.
func shapeOf(shape string) string {
	if shape == "" {
		return "<unshaped>"
	}
	return shape
}

// TokenStore creates, recycles, and reference-counts Tokens. It keeps one
// sync.Pool per payload "shape" -- the same per-key pooling idiom
// go-catrate's Limiter uses for its per-category categoryData -- to avoid
// allocator pressure on high-frequency logical/physical actions.
type TokenStore struct {
	mu    sync.Mutex
	pools map[string]*sync.Pool
	// sink receives a DestructorPanic-wrapping tracepoint whenever a
	// Destructor panics, rather than letting it propagate through the
	// scheduler. Defaults to NopSink.
	sink Sink
}

// NewTokenStore returns an empty, ready-to-use TokenStore that reports
// destructor panics to sink (NopSink{} if nil).
func NewTokenStore(sink Sink) *TokenStore {
	if sink == nil {
		sink = NopSink{}
	}
	return &TokenStore{pools: make(map[string]*sync.Pool), sink: sink}
}

func (s *TokenStore) poolFor(shape string) *sync.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[shape]
	if !ok {
		p = &sync.Pool{New: func() any { return new(Token) }}
		s.pools[shape] = p
	}
	return p
}

// Create returns a fresh or recycled Token for the given shape, with a
// ref count of one and no Value populated yet.
func (s *TokenStore) Create(shape string) *Token {
	shape = shapeOf(shape)
	t := s.poolFor(shape).Get().(*Token)
	*t = Token{shape: shape}
	t.refCount.Store(1)
	return t
}

// InitializeWithValue populates a freshly-Created token (or an existing one
// being reinitialized) with value and length, returning it for chaining.
func (s *TokenStore) InitializeWithValue(t *Token, value any, length int) *Token {
	t.Value = value
	t.Length = length
	return t
}

// Ref increments the token's reference count. Safe for concurrent use.
func Ref(t *Token) {
	if t == nil {
		return
	}
	t.refCount.Add(1)
}

// Unref decrements the token's reference count. When it reaches zero, the
// destructor (if owned and present) runs on Value, and, if the token's
// struct itself is pool-owned, it is returned to its shape's recycle pool.
// Unref panics if the reference count would go negative: that is a
// programming error in the generated reaction code, not a recoverable
// runtime condition.
func (s *TokenStore) Unref(t *Token) {
	if t == nil {
		return
	}
	n := t.refCount.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("reactor: token ref_count went negative")
	}

	destroyValue := t.OkToFree == FreeTokenAndValue
	recycleStruct := t.OkToFree == FreeTokenOnly || t.OkToFree == FreeTokenAndValue

	shape := t.shape
	if destroyValue && t.Destructor != nil {
		s.runGuarded(shape, t.Destructor, t.Value)
	}
	if recycleStruct {
		*t = Token{}
		s.poolFor(shape).Put(t)
	}
}

// runGuarded invokes fn(value), recovering any panic so a misbehaving
// destructor cannot bring down the scheduler. Per §7, a recovered panic is
// wrapped as a DestructorPanic and reported through the sink rather than
// silently discarded or allowed to propagate.
func (s *TokenStore) runGuarded(shape string, fn Destructor, value any) {
	defer func() {
		if r := recover(); r != nil {
			dp := &DestructorPanic{Trigger: shape, Value: r}
			s.sink.Tracepoint(Tracepoint{
				Type:    EventDestructorPanic,
				Trigger: shape,
				Dst:     dp.Error(),
			})
		}
	}()
	fn(value)
}
