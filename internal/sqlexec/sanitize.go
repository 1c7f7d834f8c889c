package sqlexec

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Sanitize converts a value decoded by pgx into something the JSON encoder
// handles without surprises. Range types become {lower, upper} objects with
// absent bounds omitted, timestamps become RFC 3339 strings, uuids and raw
// bytes become strings. Unknown types fall back to their string form; the
// function never panics.
func Sanitize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	case pgtype.Range[any]:
		return sanitizeRange(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Sanitize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Sanitize(e)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sanitizeRange(r pgtype.Range[any]) any {
	if !r.Valid {
		return nil
	}
	out := make(map[string]any, 2)
	if r.LowerType == pgtype.Inclusive || r.LowerType == pgtype.Exclusive {
		out["lower"] = Sanitize(r.Lower)
	}
	if r.UpperType == pgtype.Inclusive || r.UpperType == pgtype.Exclusive {
		out["upper"] = Sanitize(r.Upper)
	}
	if len(out) == 0 {
		// Empty or fully unbounded ranges carry no representable bounds.
		return nil
	}
	return out
}
