package avflt

// Handle is an opaque readable file handle opened on behalf of an agent.
// It carries no methods of its own: ownership transfer is expressed by the
// HandleBroker operations below, per the "kernel-specific resource
// transfer" abstraction in spec.md §9 Design Notes.
type Handle struct {
	v any
}

// NewHandle wraps an implementation-specific payload (e.g. an *os.File) as
// a Handle. It exists so that HandleBroker implementations outside this
// package can construct one.
func NewHandle(v any) Handle { return Handle{v: v} }

// Value returns the payload a HandleBroker implementation stashed in h.
func (h Handle) Value() any { return h.v }

// HandleBroker abstracts opening a readable handle for a dentry/mount pair
// and transferring it into an agent's descriptor table. Production code
// wires a concrete implementation (see package unixio); tests use a fake
// that returns synthetic handles.
type HandleBroker interface {
	// OpenReadable opens dentry/mount read-only, preserving flags (only
	// FlagLargefile is meaningful). It reserves but does not yet expose an
	// fd; TransferTo performs the actual handoff.
	OpenReadable(dentry DentryRef, mount MountRef, flags OpenFlag) (Handle, error)

	// TransferTo installs handle into agent's descriptor table and
	// delivers line — the request line ReadRequest has already encoded
	// and bounds-checked — to that same agent, with the descriptor
	// attached as out-of-band data on the same transmission. Callers must
	// not separately transmit line themselves. After this call the broker
	// no longer owns handle.
	TransferTo(agent *Agent, handle Handle, line []byte) error

	// Close releases a handle that was opened but never transferred, e.g.
	// because encoding failed after OpenReadable succeeded.
	Close(handle Handle) error
}

// NoHandleBroker is a HandleBroker that always fails to open; it is the
// zero-value default so that a Broker constructed without a configured
// handle broker fails loudly on the first file-backed request rather than
// silently never transferring file handles.
type NoHandleBroker struct{}

func (NoHandleBroker) OpenReadable(DentryRef, MountRef, OpenFlag) (Handle, error) {
	return Handle{}, ErrBadAddress
}

func (NoHandleBroker) TransferTo(*Agent, Handle, []byte) error {
	return ErrBadAddress
}

func (NoHandleBroker) Close(Handle) error { return nil }
