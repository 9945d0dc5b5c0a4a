package canvas

import (
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// maxIDAttempts bounds how often Add asks the generator for a fresh id
// before giving up on a generator that keeps repeating itself.
const maxIDAttempts = 16

// Store is the ordered element collection for one canvas session.
type Store struct {
	elements []Element
	index    map[string]int      // id -> position in elements
	issued   map[string]struct{} // every id seen during the store's lifetime
	ids      IDGenerator
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator overrides the UUIDv7 id generator.
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) {
		s.ids = g
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		elements: make([]Element, 0, 32),
		index:    make(map[string]int),
		issued:   make(map[string]struct{}),
		ids:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add assigns a fresh id to d, appends it on top of the paint order and
// returns the id.
func (s *Store) Add(d Draft) (string, error) {
	if !d.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidElement, d.Kind)
	}
	if d.Scale < 0 {
		return "", fmt.Errorf("%w: negative scale %v", ErrInvalidElement, d.Scale)
	}

	id, err := s.nextID()
	if err != nil {
		return "", err
	}

	e := Element{
		ID:       id,
		Kind:     d.Kind,
		Content:  normalizeContent(d.Kind, d.Content),
		X:        d.X,
		Y:        d.Y,
		Scale:    normalizeScale(d.Scale),
		Rotation: d.Rotation,
	}
	if d.Points != nil {
		e.Points = make([]Point, len(d.Points))
		copy(e.Points, d.Points)
	}
	if d.Style != nil {
		st := *d.Style
		e.Style = &st
	}

	s.index[id] = len(s.elements)
	s.elements = append(s.elements, e)
	return id, nil
}

// Update merges p into the element with the given id.
// Returns ErrElementNotFound if the id is absent; the store is unchanged.
func (s *Store) Update(id string, p Patch) error {
	pos, ok := s.index[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrElementNotFound)
	}
	if p.Scale != nil && *p.Scale < 0 {
		return fmt.Errorf("update %s: %w: negative scale %v", id, ErrInvalidElement, *p.Scale)
	}

	// Build the merged element first so a rejected patch never lands half-way.
	e := s.elements[pos].Clone()
	if p.Content != nil {
		e.Content = normalizeContent(e.Kind, *p.Content)
	}
	if p.Points != nil {
		e.Points = make([]Point, len(p.Points))
		copy(e.Points, p.Points)
	}
	if p.X != nil {
		e.X = *p.X
	}
	if p.Y != nil {
		e.Y = *p.Y
	}
	if p.Scale != nil {
		e.Scale = normalizeScale(*p.Scale)
	}
	if p.Rotation != nil {
		e.Rotation = *p.Rotation
	}
	if p.Style != nil {
		st := *p.Style
		e.Style = &st
	}

	s.elements[pos] = e
	return nil
}

// Remove deletes the element with the given id.
// Removing an absent id is not an error; the return value reports whether
// anything was removed.
func (s *Store) Remove(id string) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}

	s.elements = append(s.elements[:pos], s.elements[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.elements); i++ {
		s.index[s.elements[i].ID] = i
	}
	return true
}

// ReplaceAll swaps the whole collection for elements, keeping their ids.
//
// Entries with an empty id or a negative scale, and repeated ids after
// their first occurrence, are dropped; the number dropped is returned.
func (s *Store) ReplaceAll(elements []Element) int {
	next := make([]Element, 0, len(elements))
	index := make(map[string]int, len(elements))
	dropped := 0

	for _, e := range elements {
		if e.ID == "" {
			dropped++
			continue
		}
		if _, dup := index[e.ID]; dup {
			dropped++
			continue
		}
		c := e.Clone()
		if c.Scale < 0 {
			dropped++
			continue
		}
		c.Scale = normalizeScale(c.Scale)
		index[e.ID] = len(next)
		next = append(next, c)
	}

	for id := range index {
		s.issued[id] = struct{}{}
	}
	s.elements = next
	s.index = index
	return dropped
}

// Clear empties the store. Previously issued ids stay reserved.
func (s *Store) Clear() {
	s.elements = s.elements[:0]
	s.index = make(map[string]int)
}

// Elements returns a deep copy of the elements in paint order.
func (s *Store) Elements() []Element {
	return CloneAll(s.elements)
}

// Get returns a copy of the element with the given id.
func (s *Store) Get(id string) (Element, bool) {
	pos, ok := s.index[id]
	if !ok {
		return Element{}, false
	}
	return s.elements[pos].Clone(), true
}

// Len returns the number of elements.
func (s *Store) Len() int {
	return len(s.elements)
}

// Snapshot captures the current elements stamped with at and author.
func (s *Store) Snapshot(at time.Time, author string) Snapshot {
	return Snapshot{
		Elements:    s.Elements(),
		LastUpdated: at,
		UserID:      author,
	}
}

func (s *Store) nextID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.ids.Generate()
		if id == "" {
			continue
		}
		if _, seen := s.issued[id]; seen {
			continue
		}
		s.issued[id] = struct{}{}
		return id, nil
	}
	return "", fmt.Errorf("no unique element id after %d attempts", maxIDAttempts)
}

// normalizeScale maps the unset zero scale to 1.
func normalizeScale(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// normalizeContent puts user-entered text into NFC so that visually equal
// strings typed on different platforms compare and hash equally.
func normalizeContent(k Kind, content string) string {
	switch k {
	case KindText, KindSticker:
		return norm.NFC.String(content)
	}
	return content
}
