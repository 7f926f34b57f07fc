// Package state holds the per-session injection flags.
package state

import "sync/atomic"

// State is shared by reference between the injection controller, the viewer
// and the mutation watcher of one page session. Writes happen on the
// session's event loop; reads are safe from anywhere.
type State struct {
	buttonsInjected          atomic.Bool
	viewerDefaultInitialized atomic.Bool
}

// New returns a state with both flags cleared.
func New() *State { return &State{} }

// ButtonsInjected reports whether the button group has been placed. It never
// reverts once set.
func (s *State) ButtonsInjected() bool { return s.buttonsInjected.Load() }

// MarkButtonsInjected sets the button flag. It reports whether this call
// changed it.
func (s *State) MarkButtonsInjected() bool {
	return s.buttonsInjected.CompareAndSwap(false, true)
}

// ViewerDefaultInitialized reports whether the default-on viewer has been
// opened by the bootstrap.
func (s *State) ViewerDefaultInitialized() bool { return s.viewerDefaultInitialized.Load() }

// MarkViewerDefaultInitialized sets the viewer flag.
func (s *State) MarkViewerDefaultInitialized() bool {
	return s.viewerDefaultInitialized.CompareAndSwap(false, true)
}

// ResetViewerDefault clears the viewer flag. Only closing the in-place viewer
// does this.
func (s *State) ResetViewerDefault() {
	s.viewerDefaultInitialized.Store(false)
}

// Snapshot is a point-in-time copy of the flags.
type Snapshot struct {
	ButtonsInjected          bool `json:"buttons_injected"`
	ViewerDefaultInitialized bool `json:"viewer_default_initialized"`
}

// Snapshot copies the current flags.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		ButtonsInjected:          s.ButtonsInjected(),
		ViewerDefaultInitialized: s.ViewerDefaultInitialized(),
	}
}
