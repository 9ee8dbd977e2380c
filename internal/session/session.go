// Package session defines the Session Adapter boundary (§4.1's sibling
// component referenced throughout §4.3): platform audio-session
// configure/activate/observe-interruption/observe-route-change. Per spec,
// this is an interface-only boundary — no platform implementation is in
// scope — so this package ships the contract plus a no-op Adapter usable
// in tests and in External audio-session mode.
package session

// Mode mirrors PlayerConfiguration.audio_session_mode: in External mode the
// core never calls Configure or Activate.
type Mode int

const (
	Managed Mode = iota
	External
)

// InterruptionKind distinguishes why playback was interrupted.
type InterruptionKind int

const (
	InterruptionBegan InterruptionKind = iota
	InterruptionEnded
)

// RouteChangeReason is a coarse classification of why the audio route
// changed (e.g. headphones unplugged), passed through opaquely to
// observers — the core does not interpret it beyond "something changed,
// self-heal".
type RouteChangeReason int

const (
	RouteUnknown RouteChangeReason = iota
	RouteDeviceAdded
	RouteDeviceRemoved
	RouteCategoryChanged
)

// Observer receives session lifecycle notifications. The core implements
// this to trigger its self-heal path (§4.3's "External session change
// observed") and its HostEngineReset recovery path.
type Observer interface {
	OnInterruption(kind InterruptionKind)
	OnRouteChange(reason RouteChangeReason)
	OnExternalReset()
}

// Adapter is the Session Adapter boundary. Configure/Activate are no-ops to
// implement in External mode; Observe registers an Observer and returns an
// unsubscribe function. observe_external_reset (§6) is folded into the same
// Observer rather than a method of its own, since the host adapter that detects
// an engine reset and the session that detects an external one both just
// need to reach the same Observer.
type Adapter interface {
	Configure(mixWithOthers bool) error
	Activate() error
	Deactivate() error
	Observe(o Observer) (unsubscribe func())
}

// NoopAdapter satisfies Adapter by doing nothing: the correct choice for
// External mode, and a safe default for tests that never exercise
// session-adapter behavior.
type NoopAdapter struct{}

func (NoopAdapter) Configure(mixWithOthers bool) error { return nil }
func (NoopAdapter) Activate() error                    { return nil }
func (NoopAdapter) Deactivate() error                   { return nil }
func (NoopAdapter) Observe(o Observer) (unsubscribe func()) {
	return func() {}
}
