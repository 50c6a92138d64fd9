package scancache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/franckalain/glowscan/internal/models"
)

func TestDecodeEntry(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   EntryKind
		legacy string
	}{
		{name: "empty", raw: "", kind: EntryAbsent},
		{name: "record", raw: `{"uri":"file:///a.jpg","shouldMirror":true,"timestamp":7}`, kind: EntryCurrent},
		{name: "record without uri", raw: `{"shouldMirror":true}`, kind: EntryAbsent},
		{name: "json string", raw: `"file:///old.jpg"`, kind: EntryLegacy, legacy: "file:///old.jpg"},
		{name: "bare string", raw: "file:///bare.jpg", kind: EntryLegacy, legacy: "file:///bare.jpg"},
		{name: "null", raw: "null", kind: EntryAbsent},
		{name: "number", raw: "12", kind: EntryAbsent},
		{name: "broken record", raw: `{"uri":`, kind: EntryAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DecodeEntry([]byte(tt.raw))
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.legacy, e.LegacyURI)
		})
	}
}

func TestEntryResolve(t *testing.T) {
	now := time.UnixMilli(5000)

	img := DecodeEntry([]byte(`{"uri":"u","shouldMirror":false,"timestamp":7}`)).Resolve(models.SlotLeft, now)
	assert.Equal(t, &models.ScanImage{URI: "u", Timestamp: 7}, img)

	front := Entry{Kind: EntryLegacy, LegacyURI: "u"}.Resolve(models.SlotFront, now)
	assert.True(t, front.ShouldMirror)
	assert.Equal(t, int64(5000), front.Timestamp)

	right := Entry{Kind: EntryLegacy, LegacyURI: "u"}.Resolve(models.SlotRight, now)
	assert.False(t, right.ShouldMirror)

	assert.Nil(t, Entry{}.Resolve(models.SlotFront, now))
}
