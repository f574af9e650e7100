package access

import "fmt"

// Embedder turns a media reference into the source loaded by the surface
type Embedder func(mediaRef string) (string, error)

// Surface server-side handle of the single embedded player of a session.
//
// Attaching sets the source (the player autoplays), detaching clears it.
// The surface itself is never recreated while the session lives.
type Surface struct {
	source string
	loads  int
}

// Source the currently attached source, empty when detached
func (s *Surface) Source() string {
	return s.source
}

// Loads how many times a source has been loaded into the surface
func (s *Surface) Loads() int {
	return s.loads
}

// Mount owns the surface of one session and decides when its source is
// attached. All calls happen under the owning session's lock.
type Mount struct {
	mediaRef string
	embed    Embedder
	src      string
	surface  *Surface
	released bool
}

// NewMount create a mount for mediaRef, no surface exists until EnsureSurface
func NewMount(mediaRef string, embed Embedder) *Mount {
	return &Mount{mediaRef: mediaRef, embed: embed}
}

// Available reports whether mediaRef can be turned into a playable source
func (m *Mount) Available() bool {
	if m.surface != nil {
		return true
	}
	_, err := m.resolve()
	return err == nil
}

func (m *Mount) resolve() (string, error) {
	if m.mediaRef == "" || m.embed == nil {
		return "", ErrMediaUnavailable
	}
	src, err := m.embed(m.mediaRef)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	if src == "" {
		return "", ErrMediaUnavailable
	}
	return src, nil
}

// EnsureSurface creates the surface on first use; later calls are no-ops
func (m *Mount) EnsureSurface() error {
	if m.released {
		panic(ErrSurfaceReleased)
	}
	if m.surface != nil {
		return nil
	}
	src, err := m.resolve()
	if err != nil {
		return err
	}
	m.src = src
	m.surface = new(Surface)
	return nil
}

// SetAttached attaches the source when active, clears it otherwise.
// Attaching an already attached surface does not reload it.
func (m *Mount) SetAttached(active bool) {
	if m.released {
		panic(ErrSurfaceReleased)
	}
	if m.surface == nil {
		panic(ErrNoSurface)
	}
	if active {
		if m.surface.source == "" {
			m.surface.source = m.src
			m.surface.loads++
		}
		return
	}
	m.surface.source = ""
}

// Attached reports whether the surface currently plays a source
func (m *Mount) Attached() bool {
	return m.surface != nil && m.surface.source != ""
}

// Mounted reports whether the surface has been created
func (m *Mount) Mounted() bool {
	return m.surface != nil && !m.released
}

// Surface the owned surface, nil before EnsureSurface
func (m *Mount) Surface() *Surface {
	return m.surface
}

// Release stops playback and destroys the surface at session end
func (m *Mount) Release() {
	if m.released {
		return
	}
	if m.surface != nil {
		m.surface.source = ""
	}
	m.released = true
}
