package scancache

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/franckalain/glowscan/internal/models"
)

// EntryKind tags the shape a per-slot record was found in
type EntryKind int

const (
	// EntryAbsent means nothing usable is stored for the slot
	EntryAbsent EntryKind = iota
	// EntryCurrent is a structured ScanImage record
	EntryCurrent
	// EntryLegacy is a bare URI string written by older app versions
	EntryLegacy
)

func (k EntryKind) String() string {
	switch k {
	case EntryCurrent:
		return "current"
	case EntryLegacy:
		return "legacy"
	}
	return "absent"
}

// Entry is a decoded per-slot record
type Entry struct {
	Kind      EntryKind
	Image     *models.ScanImage // set for EntryCurrent
	LegacyURI string            // set for EntryLegacy
}

// DecodeEntry interprets the raw bytes stored under a slot key. Structured
// records decode as EntryCurrent. A JSON string, or a value that is not JSON
// at all, is a legacy URI. Anything else is absent.
func DecodeEntry(raw []byte) Entry {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Entry{Kind: EntryAbsent}
	}

	switch raw[0] {
	case '{':
		var img models.ScanImage
		if err := json.Unmarshal(raw, &img); err != nil || img.URI == "" {
			return Entry{Kind: EntryAbsent}
		}
		return Entry{Kind: EntryCurrent, Image: &img}
	case '"':
		var uri string
		if err := json.Unmarshal(raw, &uri); err != nil || uri == "" {
			return Entry{Kind: EntryAbsent}
		}
		return Entry{Kind: EntryLegacy, LegacyURI: uri}
	}

	if json.Valid(raw) {
		// numbers, arrays, null, booleans
		return Entry{Kind: EntryAbsent}
	}
	return Entry{Kind: EntryLegacy, LegacyURI: string(raw)}
}

// Resolve turns the entry into an image for slot. Legacy values are assumed
// to be front camera captures when stored in the front slot and are stamped
// with now.
func (e Entry) Resolve(slot models.Slot, now time.Time) *models.ScanImage {
	switch e.Kind {
	case EntryCurrent:
		img := *e.Image
		return &img
	case EntryLegacy:
		return models.NewScanImage(e.LegacyURI, slot == models.SlotFront, now)
	}
	return nil
}
