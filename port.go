package reactor

// Ownership selects how SetPort attaches a value to a port, re-expressing
// the four macro-generated port setters from the reference implementation
// (scalar, array, new, forward-token) as one function parameterized by this
// enum, per §9.
type Ownership int

const (
	// OwnershipCopy duplicates the value via the port's CopyConstructor (or
	// a direct Go assignment, for values without reference semantics) before
	// storing it, so the caller retains an independent copy.
	OwnershipCopy Ownership = iota
	// OwnershipMove stores the value directly, transferring ownership to the
	// port; the caller must not touch it again this step.
	OwnershipMove
	// OwnershipForward attaches an existing Token (and its ref count)
	// directly to the port, without allocating a new one.
	OwnershipForward
	// OwnershipAlloc allocates a fresh Token from the TokenStore and
	// populates it with value, for callers that don't already hold a Token.
	OwnershipAlloc
)

// Port is a downstream-readable value cell, reset at the end of every step
// per §4.6's invariant that IsPresent must be false at the start of any tag.
type Port struct {
	Name string

	Value any
	// IsPresent is true only during the step in which the port was set;
	// readers must treat Value as undefined otherwise.
	IsPresent bool
	Token     *Token
	// NumDestinations is fixed at graph-construction time and used to seed
	// a freshly-created token's ref count so it exactly matches the number
	// of downstream readers (§4.6).
	NumDestinations int

	Destructor      Destructor
	CopyConstructor CopyConstructor
}

// NewPort returns a Port with the given name and downstream fan-out count.
func NewPort(name string, numDestinations int) *Port {
	return &Port{Name: name, NumDestinations: numDestinations}
}

// SetPort attaches value to p according to ownership, marking it present for
// the current step. store is used only for OwnershipAlloc, to create a new
// Token; for the other three modes no token allocation occurs ( OwnershipCopy
// and OwnershipMove just populate Value directly -- ports without attached
// Tokens are valid, e.g. for scalar primitive values that don't need
// destructors).
func SetPort(store *TokenStore, p *Port, ownership Ownership, value any, tok *Token) {
	switch ownership {
	case OwnershipForward:
		p.Token = tok
		p.Value = tok.Value
	case OwnershipAlloc:
		t := store.Create(p.Name)
		store.InitializeWithValue(t, value, 1)
		t.Destructor = p.Destructor
		t.CopyConstructor = p.CopyConstructor
		t.OkToFree = FreeTokenAndValue
		t.refCount.Store(int64(max(p.NumDestinations, 1)))
		p.Token = t
		p.Value = value
	case OwnershipCopy:
		if p.CopyConstructor != nil {
			value = p.CopyConstructor(value)
		}
		p.Value = value
	default: // OwnershipMove
		p.Value = value
	}
	p.IsPresent = true
}

// resetPort clears IsPresent and unrefs any attached token, per the
// end-of-step port-release step in §4.5's FINISH_STEP and §4.6.
func resetPort(store *TokenStore, p *Port) {
	if p.Token != nil {
		store.Unref(p.Token)
		p.Token = nil
	}
	p.Value = nil
	p.IsPresent = false
}
