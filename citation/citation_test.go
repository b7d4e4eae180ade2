package citation

import (
	"context"
	"strings"
	"testing"

	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/stretchr/testify/require"
)

type fakeBibSystem struct {
	known map[string]bool
}

func (f *fakeBibSystem) Add(ctx context.Context, item *store.BibItem) (string, error) { return "", nil }
func (f *fakeBibSystem) Get(ctx context.Context, key string) (*store.BibItem, error)  { return nil, nil }
func (f *fakeBibSystem) Update(ctx context.Context, key string, updates *store.BibItem) error {
	return nil
}
func (f *fakeBibSystem) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeBibSystem) Exists(ctx context.Context, key string) (bool, error) {
	return f.known[key], nil
}
func (f *fakeBibSystem) Search(ctx context.Context, conditions []store.BibSearchCondition, limit int) ([]*store.BibItem, error) {
	return nil, nil
}
func (f *fakeBibSystem) Ping(ctx context.Context) error { return nil }

func TestExtractKeys(t *testing.T) {
	text := "See [@Smith2021Abc] and [@Jones99xy], also [@Smith2021Abc] again."
	keys := ExtractKeys(text)
	require.Equal(t, []string{"Smith2021Abc", "Jones99xy"}, keys)
}

func TestExtractKeysNoMatches(t *testing.T) {
	require.Empty(t, ExtractKeys("no citations here"))
}

func TestExtractKeySet(t *testing.T) {
	set := ExtractKeySet("[@A1] and [@B2] and [@A1]")
	require.True(t, set["A1"])
	require.True(t, set["B2"])
	require.Len(t, set, 2)
}

func TestVerifyBatch(t *testing.T) {
	bib := &fakeBibSystem{known: map[string]bool{"Valid001": true}}
	results := VerifyBatch(context.Background(), bib, []string{"Valid001", "Missing2"})
	require.True(t, results["Valid001"])
	require.False(t, results["Missing2"])
}

func TestClassifyShortCircuitsCorpusKeys(t *testing.T) {
	bib := &fakeBibSystem{known: map[string]bool{}}
	corpus := map[string]bool{"FromCorp": true}
	valid, invalid := Classify(context.Background(), bib, []string{"FromCorp", "NotFound1"}, corpus)
	require.Equal(t, []string{"FromCorp"}, valid)
	require.Equal(t, []string{"NotFound1"}, invalid)
}

func TestClassifyAllFromCorpusSkipsVerification(t *testing.T) {
	bib := &fakeBibSystem{known: nil}
	corpus := map[string]bool{"KeyOne01": true, "KeyTwo02": true}
	valid, invalid := Classify(context.Background(), bib, []string{"KeyOne01", "KeyTwo02"}, corpus)
	require.ElementsMatch(t, []string{"KeyOne01", "KeyTwo02"}, valid)
	require.Empty(t, invalid)
}

func TestValidateEditsExactlyOnce(t *testing.T) {
	doc := "The cat sat on the mat."
	edits := []Edit{
		{Find: "cat", Replace: "dog"},
		{Find: "at", Replace: "AT"}, // occurs in "cat", "sat", "mat"
		{Find: "giraffe", Replace: "x"},
	}
	result := ValidateEdits(doc, edits)
	require.Len(t, result.Valid, 1)
	require.Equal(t, "cat", result.Valid[0].Find)
	require.Len(t, result.Invalid, 2)
	require.Contains(t, result.Errors[1], "ambiguous")
	require.Contains(t, result.Errors[2], "not found")
}

func TestApplyEdits(t *testing.T) {
	doc := "The cat sat on the mat."
	out := ApplyEdits(doc, []Edit{{Find: "cat", Replace: "dog"}})
	require.Equal(t, "The dog sat on the mat.", out)
}

func TestDetectDuplicateHeaders(t *testing.T) {
	doc := "# Intro\nbody one\n\n# Methods\nbody two\n\n# Intro\nbody three\n"
	dups := DetectDuplicateHeaders(doc)
	require.Len(t, dups, 1)
	require.Equal(t, "Intro", dups[0].Text)
	require.Len(t, dups[0].Occurrences, 2)
}

func TestRemoveDuplicateHeadersIdenticalBody(t *testing.T) {
	doc := "# Intro\nThis is the shared introduction text used twice over.\n\n# Methods\nunique content\n\n# Intro\nThis is the shared introduction text used twice over.\n"
	out := RemoveDuplicateHeaders(doc)
	require.Equal(t, 1, strings.Count(out, "# Intro"))
}

func TestRemoveDuplicateHeadersDistinctBody(t *testing.T) {
	doc := "# Intro\nqwertyuiopasdfghjklz\n\n# Intro\n1234567890!@#$%^&*()\n"
	out := RemoveDuplicateHeaders(doc)
	require.Equal(t, 1, strings.Count(out, "# Intro"))
	require.Contains(t, out, "qwertyuiopasdfghjklz")
	require.Contains(t, out, "1234567890!@#$%^&*()")
}

func TestSimilarityRatioIdentical(t *testing.T) {
	require.Equal(t, 1.0, SimilarityRatio("abc", "abc"))
}

func TestSimilarityRatioDisjoint(t *testing.T) {
	require.Equal(t, 0.0, SimilarityRatio("abc", "xyz"))
}

func TestDetectDuplicateSections(t *testing.T) {
	sections := []string{
		"paragraph about climate impacts on coastal cities and infrastructure",
		"0192837465!@#$%^&*()_+zxqvjkwy",
		"paragraph about climate impacts on coastal cities and infrastructure",
	}
	dups := DetectDuplicateSections(sections)
	require.Len(t, dups, 1)
	require.Equal(t, 0, dups[0].FirstIndex)
	require.Equal(t, 2, dups[0].SecondIndex)
}
