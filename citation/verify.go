package citation

import (
	"context"

	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/store"
)

// VerifyFanOutBound is spec §5's authoritative bib-key-verification
// fan-out bound.
const VerifyFanOutBound = 10

// VerifyBatch checks each key's existence against bib, bounded to
// VerifyFanOutBound concurrent lookups. A lookup failure counts as
// "does not exist" rather than aborting the batch, matching
// zotero.py's verify_zotero_citation's catch-and-log-false behavior.
func VerifyBatch(ctx context.Context, bib store.BibSystem, keys []string) map[string]bool {
	results, _ := flow.FanOutTolerant(ctx, VerifyFanOutBound, keys, func(ctx context.Context, key string) (bool, error) {
		return bib.Exists(ctx, key)
	})

	out := make(map[string]bool, len(keys))
	for i, key := range keys {
		out[key] = results[i]
	}
	return out
}

// Classify splits keys into valid and invalid against the union of
// corpusKeys and a bib-system lookup: a key already known from the
// corpus is accepted without a network round trip; everything else is
// verified via VerifyBatch. Mirrors
// citation_validation/validator.py's validate_citations_against_zotero
// "known_valid_keys short-circuit" behavior.
func Classify(ctx context.Context, bib store.BibSystem, keys []string, corpusKeys map[string]bool) (valid, invalid []string) {
	var toVerify []string
	for _, key := range keys {
		if corpusKeys[key] {
			valid = append(valid, key)
			continue
		}
		toVerify = append(toVerify, key)
	}
	if len(toVerify) == 0 {
		return valid, invalid
	}

	verified := VerifyBatch(ctx, bib, toVerify)
	for _, key := range toVerify {
		if verified[key] {
			valid = append(valid, key)
		} else {
			invalid = append(invalid, key)
		}
	}
	return valid, invalid
}
