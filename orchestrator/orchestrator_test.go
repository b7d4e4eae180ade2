package orchestrator

import (
	"context"
	"testing"

	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/review/loop1"
	"github.com/DaveCBeck/thala-sub002/review/loop2"
	"github.com/DaveCBeck/thala-sub002/review/loop3"
	"github.com/DaveCBeck/thala-sub002/review/loop4"
	"github.com/DaveCBeck/thala-sub002/review/loop5"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/stretchr/testify/require"
)

func TestUnifiedDiffEmptyWhenUnchanged(t *testing.T) {
	require.Equal(t, "", unifiedDiff("same text", "same text"))
}

func TestUnifiedDiffReportsChange(t *testing.T) {
	out := unifiedDiff("line one\nline two\n", "line one\nline TWO\n")
	require.Contains(t, out, "-line two")
	require.Contains(t, out, "+line TWO")
}

func TestRunNoneRunsNothing(t *testing.T) {
	shared := review.Shared{CurrentReview: "original text"}
	out, result, err := Run(context.Background(), Deps{}, shared, LoopNone, nil)
	require.NoError(t, err)
	require.Equal(t, "original text", out.CurrentReview)
	require.Empty(t, result.Revisions)
}

func TestRunOrdinalsAscendByLoopSelector(t *testing.T) {
	require.Equal(t, 0, ordinals[LoopNone])
	require.Equal(t, 1, ordinals[LoopOne])
	require.Equal(t, 5, ordinals[LoopAll])
	require.Less(t, ordinals[LoopThree], ordinals[LoopFour])
}

func TestRunRecordsRevisionOnlyWhenTextChanges(t *testing.T) {
	progress := MultiLoopProgress{LoopIterations: map[float64]int{}}
	var revisions []DocumentRevision
	record := func(loopNumber float64, iteration int, before, after string) {
		if before == after {
			return
		}
		revisions = append(revisions, DocumentRevision{LoopNumber: loopNumber, Iteration: iteration, Before: before, After: after})
	}

	record(1, 1, "same", "same")
	require.Empty(t, revisions)

	record(1, 1, "same", "different")
	require.Len(t, revisions, 1)
	_ = progress
}

// fakeBibSystem satisfies store.BibSystem for loop4/loop5's Deps without
// a real bibliographic backend.
type fakeBibSystem struct{}

func (f *fakeBibSystem) Add(ctx context.Context, item *store.BibItem) (string, error) { return "", nil }
func (f *fakeBibSystem) Get(ctx context.Context, key string) (*store.BibItem, error)  { return nil, nil }
func (f *fakeBibSystem) Update(ctx context.Context, key string, updates *store.BibItem) error {
	return nil
}
func (f *fakeBibSystem) Delete(ctx context.Context, key string) error        { return nil }
func (f *fakeBibSystem) Exists(ctx context.Context, key string) (bool, error) { return true, nil }
func (f *fakeBibSystem) Search(ctx context.Context, conditions []store.BibSearchCondition, limit int) ([]*store.BibItem, error) {
	return nil, nil
}
func (f *fakeBibSystem) Ping(ctx context.Context) error { return nil }

// TestDepsFieldsWireToEachLoop is a compile-level check that Deps'
// fields are assignable to each subpackage's own Deps type, guarding
// against a field-name/type drift across the five loop packages.
func TestDepsFieldsWireToEachLoop(t *testing.T) {
	var d Deps
	d.Loop1 = loop1.Deps{}
	d.Loop2 = loop2.Deps{}
	d.Loop3 = loop3.Deps{}
	d.Loop4 = loop4.Deps{Bib: &fakeBibSystem{}}
	d.Loop5 = loop5.Deps{Bib: &fakeBibSystem{}}
	require.NotNil(t, d.Loop4.Bib)
	require.NotNil(t, d.Loop5.Bib)
}
