package snapshot

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dyluth/hive/pkg/knowledge"
)

// Redis stores facts as string-to-string hashes. Floats are written with
// the shortest float32 representation and times as Unix nanoseconds, 0
// meaning unset.

// FactToHash converts a fact to its Redis hash form.
func FactToHash(f *knowledge.Fact) map[string]interface{} {
	return map[string]interface{}{
		"id":            f.ID,
		"kind":          uint8(f.Kind),
		"name":          f.Name,
		"truth":         formatFloat(f.Truth),
		"confidence":    formatFloat(f.Confidence),
		"importance":    formatFloat(f.Importance),
		"created_at_ns": unixNano(f.CreatedAt),
		"updated_at_ns": unixNano(f.UpdatedAt),
	}
}

// HashToFact converts a Redis hash back to a fact and validates it.
func HashToFact(hash map[string]string) (*knowledge.Fact, error) {
	id, err := strconv.ParseUint(hash["id"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid id field: %w", err)
	}
	kind, err := strconv.ParseUint(hash["kind"], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid kind field: %w", err)
	}

	f := &knowledge.Fact{
		ID:   uint32(id),
		Kind: knowledge.Kind(kind),
		Name: hash["name"],
	}
	floats := []struct {
		field string
		dst   *float32
	}{
		{"truth", &f.Truth},
		{"confidence", &f.Confidence},
		{"importance", &f.Importance},
	}
	for _, fl := range floats {
		v, err := strconv.ParseFloat(hash[fl.field], 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", fl.field, err)
		}
		*fl.dst = float32(v)
	}

	created, _ := strconv.ParseInt(hash["created_at_ns"], 10, 64)
	updated, _ := strconv.ParseInt(hash["updated_at_ns"], 10, 64)
	f.CreatedAt = fromUnixNano(created)
	f.UpdatedAt = fromUnixNano(updated)

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot fact %q: %w", f.Name, err)
	}
	return f, nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
