package record

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestValidBibKey(t *testing.T) {
	require.True(t, ValidBibKey("AbCd1234"))
	require.False(t, ValidBibKey("short"))
	require.False(t, ValidBibKey("has-a-dash"))
	require.False(t, ValidBibKey("ninechars"))
}

func TestRecord_ValidateExternalRequiresBibKey(t *testing.T) {
	now := time.Now()
	r := New(now, SourceExternal, LevelOriginal, "hello world")
	require.Error(t, r.Validate(), "external record without bib_key must fail validation")

	r.BibKey = "AbCd1234"
	require.NoError(t, r.Validate())
}

func TestRecord_ValidateDerivativeRequiresSourceIDs(t *testing.T) {
	now := time.Now()
	r := New(now, SourceInternal, LevelShort, "summary")
	require.Error(t, r.Validate())

	r.SourceIDs = []uuid.UUID{uuid.New()}
	require.NoError(t, r.Validate())
}

func TestRecord_SerializeRoundTrips(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	r := New(now, SourceInternal, LevelTenth, "compressed text")
	r.SourceIDs = []uuid.UUID{uuid.New()}
	r.Metadata["chapter_count"] = 8

	data, err := r.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, r.Content, got.Content)
	require.Equal(t, r.CompressionLevel, got.CompressionLevel)
	require.Equal(t, r.SourceIDs, got.SourceIDs)
}

func TestWhoIWasRecord_PreviousDataRoundTrips(t *testing.T) {
	now := time.Now()
	r := New(now, SourceInternal, LevelShort, "original body")
	r.SourceIDs = []uuid.UUID{uuid.New()}

	snapshot, err := NewWhoIWasRecord(now, r, "refined by user", StoreCoherence)
	require.NoError(t, err)
	require.Equal(t, r.ID, snapshot.Supersedes)
	require.Equal(t, "refined by user", snapshot.Reason)

	previous, err := snapshot.PreviousRecord()
	require.NoError(t, err)
	require.Equal(t, r.Content, previous.Content)
}

func TestWhoIWasRecord_RequiresReason(t *testing.T) {
	r := New(time.Now(), SourceInternal, LevelOriginal, "x")
	_, err := NewWhoIWasRecord(time.Now(), r, "", StoreMain)
	require.Error(t, err)
}

func TestForgottenRecord_RequiresReason(t *testing.T) {
	r := New(time.Now(), SourceInternal, LevelOriginal, "x")
	_, err := NewForgottenRecord(time.Now(), r, "")
	require.Error(t, err)

	fr, err := NewForgottenRecord(time.Now(), r, "user requested deletion")
	require.NoError(t, err)
	require.Equal(t, r.ID, fr.Supersedes)
}

func TestFlattenMetadata(t *testing.T) {
	flat, err := FlattenMetadata(map[string]any{
		"title":   "A Book",
		"count":   5,
		"ok":      true,
		"dropped": nil,
		"tags":    []string{"a", "b"},
	})
	require.NoError(t, err)
	require.Equal(t, "A Book", flat["title"])
	require.Equal(t, 5, flat["count"])
	require.Equal(t, true, flat["ok"])
	require.NotContains(t, flat, "dropped")
	require.Equal(t, `["a","b"]`, flat["tags"])
}

func TestCompressionLevel_IndexName(t *testing.T) {
	require.Equal(t, "store_l0", LevelOriginal.IndexName())
	require.Equal(t, "store_l1", LevelShort.IndexName())
	require.Equal(t, "store_l2", LevelTenth.IndexName())
}
