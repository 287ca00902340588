package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// bucketSize groups raw token amounts into coarse buckets so two near-equal
// amounts for the same trade collapse to the same fingerprint, per spec
// §3's "bucketized amount".
const bucketSize = 1_000_000 // 0.001 SOL-equivalent in lamports

// Fingerprint computes the deterministic 64-bit hash described in spec §3:
// derived from (kind, canonicalized instruction program-ids, primary
// input/output mint, bucketized amount). Two equivalent opportunities
// always hash identically regardless of instruction ordering.
func Fingerprint(kind Kind, programIDs []string, inputMint, outputMint string, amount uint64) uint64 {
	sorted := append([]string(nil), programIDs...)
	sort.Strings(sorted)

	bucket := amount / bucketSize

	var sb strings.Builder
	sb.WriteString(string(kind))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(sorted, ","))
	sb.WriteByte('|')
	sb.WriteString(inputMint)
	sb.WriteByte('|')
	sb.WriteString(outputMint)
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%d", bucket)

	return xxhash.Sum64String(sb.String())
}
