package session

import "sync"

// FakeAdapter is a controllable Adapter for tests: Configure/Activate calls
// are counted, and Trigger* methods let a test simulate an external
// interruption or route change on whatever Observers are currently
// subscribed.
type FakeAdapter struct {
	mu sync.Mutex

	configureCalls int
	activateCalls  int
	lastMix        bool
	observers      map[int]Observer
	nextID         int
}

// NewFakeAdapter returns an empty FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{observers: make(map[int]Observer)}
}

func (f *FakeAdapter) Configure(mixWithOthers bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configureCalls++
	f.lastMix = mixWithOthers
	return nil
}

func (f *FakeAdapter) Activate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activateCalls++
	return nil
}

func (f *FakeAdapter) Deactivate() error { return nil }

func (f *FakeAdapter) Observe(o Observer) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.observers[id] = o
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

// TriggerInterruption fans out an interruption notification to every
// current observer.
func (f *FakeAdapter) TriggerInterruption(kind InterruptionKind) {
	f.mu.Lock()
	obs := make([]Observer, 0, len(f.observers))
	for _, o := range f.observers {
		obs = append(obs, o)
	}
	f.mu.Unlock()
	for _, o := range obs {
		o.OnInterruption(kind)
	}
}

// TriggerRouteChange fans out a route-change notification to every current
// observer.
func (f *FakeAdapter) TriggerRouteChange(reason RouteChangeReason) {
	f.mu.Lock()
	obs := make([]Observer, 0, len(f.observers))
	for _, o := range f.observers {
		obs = append(obs, o)
	}
	f.mu.Unlock()
	for _, o := range obs {
		o.OnRouteChange(reason)
	}
}

// TriggerExternalReset fans out an external-reset notification (§6's
// observe_external_reset) to every current observer.
func (f *FakeAdapter) TriggerExternalReset() {
	f.mu.Lock()
	obs := make([]Observer, 0, len(f.observers))
	for _, o := range f.observers {
		obs = append(obs, o)
	}
	f.mu.Unlock()
	for _, o := range obs {
		o.OnExternalReset()
	}
}

// ConfigureCalls returns how many times Configure was called.
func (f *FakeAdapter) ConfigureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configureCalls
}

// ActivateCalls returns how many times Activate was called.
func (f *FakeAdapter) ActivateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activateCalls
}
