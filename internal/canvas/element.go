package canvas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies what an element draws.
// Wire values match the canvas backend ("drawing" is a freehand stroke).
type Kind string

const (
	KindStroke  Kind = "drawing"
	KindText    Kind = "text"
	KindSticker Kind = "sticker"
	KindImage   Kind = "image"
)

// Valid reports whether k is one of the known element kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStroke, KindText, KindSticker, KindImage:
		return true
	}
	return false
}

// Point is one sample of a stroke path in canvas-local coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Style carries kind-specific appearance attributes.
type Style struct {
	Color       string  `json:"color,omitempty"`
	FontFamily  string  `json:"fontFamily,omitempty"`
	FontSize    float64 `json:"fontSize,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

// Element is one placed object on the canvas.
//
// Content holds the literal text, the sticker glyph or the image URL.
// Points holds the path of a stroke.
type Element struct {
	ID       string  `json:"id"`
	Kind     Kind    `json:"type"`
	Content  string  `json:"content"`
	Points   []Point `json:"points,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale,omitempty"`
	Rotation float64 `json:"rotation,omitempty"`
	Style    *Style  `json:"style,omitempty"`
}

// Clone returns a deep copy of e.
func (e Element) Clone() Element {
	out := e
	if e.Points != nil {
		out.Points = make([]Point, len(e.Points))
		copy(out.Points, e.Points)
	}
	if e.Style != nil {
		s := *e.Style
		out.Style = &s
	}
	return out
}

// Draft is an element that has not been assigned an id yet.
type Draft struct {
	Kind     Kind
	Content  string
	Points   []Point
	X        float64
	Y        float64
	Scale    float64
	Rotation float64
	Style    *Style
}

// Patch lists the fields to merge into an existing element.
// Nil fields are left unchanged. Id and kind cannot be patched.
type Patch struct {
	Content  *string  `json:"content,omitempty"`
	Points   []Point  `json:"points,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	Style    *Style   `json:"style,omitempty"`
}

// Partner describes the paired user on the other end of the canvas.
type Partner struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Snapshot is the full ordered element list at a point in time.
type Snapshot struct {
	Elements    []Element `json:"elements"`
	LastUpdated time.Time `json:"lastUpdated"`
	UserID      string    `json:"userId,omitempty"`
	Partner     *Partner  `json:"partner,omitempty"`
}

// Hash returns a hex SHA-256 digest of the element list.
// Two snapshots with the same elements in the same order hash equally.
func (s Snapshot) Hash() (string, error) {
	elements := s.Elements
	if elements == nil {
		elements = []Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// IDs returns the element ids in paint order.
func IDs(elements []Element) []string {
	ids := make([]string, len(elements))
	for i, e := range elements {
		ids[i] = e.ID
	}
	return ids
}

// CloneAll deep-copies an element list. A nil input yields an empty list.
func CloneAll(elements []Element) []Element {
	out := make([]Element, len(elements))
	for i, e := range elements {
		out[i] = e.Clone()
	}
	return out
}
