package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownSlot is returned when a slot name is not one of front, right, left.
var ErrUnknownSlot = errors.New("unknown scan slot")

// Slot is one of the three fixed image positions of a face scan
type Slot string

const (
	SlotFront Slot = "front"
	SlotRight Slot = "right"
	SlotLeft  Slot = "left"
)

var slots = [...]Slot{SlotFront, SlotRight, SlotLeft}

// Slots returns the three slots in capture order
func Slots() []Slot {
	return slots[:]
}

// ParseSlot validates a slot name
func ParseSlot(s string) (Slot, error) {
	for _, slot := range slots {
		if string(slot) == s {
			return slot, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSlot, s)
}

// StorageKey is the key holding the full per-slot ScanImage record
func (s Slot) StorageKey() string {
	return "scan_" + string(s)
}

// ScanImage references a captured photograph
type ScanImage struct {
	URI          string `json:"uri"`          // local path, data URI or remote URL
	ShouldMirror bool   `json:"shouldMirror"` // front camera capture, display flipped
	Timestamp    int64  `json:"timestamp"`    // ms since epoch, recency signal only
}

// NewScanImage stamps an image with the given acceptance time
func NewScanImage(uri string, shouldMirror bool, at time.Time) *ScanImage {
	return &ScanImage{
		URI:          uri,
		ShouldMirror: shouldMirror,
		Timestamp:    at.UnixMilli(),
	}
}

// ScanSession is the aggregate root of the scan cache
type ScanSession struct {
	ID        string     `json:"id"`
	Timestamp int64      `json:"timestamp"` // last modification, ms since epoch
	Front     *ScanImage `json:"front,omitempty"`
	Right     *ScanImage `json:"right,omitempty"`
	Left      *ScanImage `json:"left,omitempty"`
	Completed bool       `json:"completed"`
}

// Image returns the image held in a slot, nil when empty
func (s *ScanSession) Image(slot Slot) *ScanImage {
	switch slot {
	case SlotFront:
		return s.Front
	case SlotRight:
		return s.Right
	case SlotLeft:
		return s.Left
	}
	return nil
}

// SetImage replaces a slot unconditionally and recomputes Completed.
func (s *ScanSession) SetImage(slot Slot, img *ScanImage) {
	switch slot {
	case SlotFront:
		s.Front = img
	case SlotRight:
		s.Right = img
	case SlotLeft:
		s.Left = img
	}
	s.RefreshCompleted()
}

// ClearImage empties a slot and recomputes Completed.
func (s *ScanSession) ClearImage(slot Slot) {
	s.SetImage(slot, nil)
}

// RefreshCompleted derives Completed from slot presence
func (s *ScanSession) RefreshCompleted() {
	s.Completed = s.Front != nil && s.Right != nil && s.Left != nil
}

// Results returns a read-only view of the three slots
func (s *ScanSession) Results() ScanResults {
	return ScanResults{
		Front: copyImage(s.Front),
		Right: copyImage(s.Right),
		Left:  copyImage(s.Left),
	}
}

// ScanResults is the aggregate read of all three slots
type ScanResults struct {
	Front *ScanImage `json:"front,omitempty"`
	Right *ScanImage `json:"right,omitempty"`
	Left  *ScanImage `json:"left,omitempty"`
}

// Get returns the image for a slot
func (r ScanResults) Get(slot Slot) *ScanImage {
	switch slot {
	case SlotFront:
		return r.Front
	case SlotRight:
		return r.Right
	case SlotLeft:
		return r.Left
	}
	return nil
}

// Set stores the image for a slot
func (r *ScanResults) Set(slot Slot, img *ScanImage) {
	switch slot {
	case SlotFront:
		r.Front = img
	case SlotRight:
		r.Right = img
	case SlotLeft:
		r.Left = img
	}
}

// Any reports whether at least one slot is populated
func (r ScanResults) Any() bool {
	return r.Front != nil || r.Right != nil || r.Left != nil
}

// Populated returns the populated slots in capture order
func (r ScanResults) Populated() []Slot {
	var out []Slot
	for _, slot := range slots {
		if r.Get(slot) != nil {
			out = append(out, slot)
		}
	}
	return out
}

func copyImage(img *ScanImage) *ScanImage {
	if img == nil {
		return nil
	}
	c := *img
	return &c
}
