package listing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Column values arrive as whatever the driver produced: Postgres text and
// numeric come back as string or []byte, sqlite integers as int64, JSON
// columns as text. Empty strings and NULL are unset, never zero.

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// blank reports whether v counts as unset.
func blank(v any) bool {
	s, ok := v.(string)
	if ok {
		return strings.TrimSpace(s) == ""
	}
	b, ok := v.([]byte)
	if ok {
		return strings.TrimSpace(string(b)) == ""
	}
	return v == nil
}

func optionalFloat(v any) (*float64, error) {
	if blank(v) {
		return nil, nil
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	case decimal.Decimal:
		f = t.InexactFloat64()
	default:
		s, _ := asString(t)
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a finite number")
	}
	return &f, nil
}

func optionalInt(v any) (*int, error) {
	f, err := optionalFloat(v)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, fmt.Errorf("not an integer: %v", *f)
	}
	i := int(*f)
	return &i, nil
}

func intValue(v any) (int64, error) {
	f, err := optionalFloat(v)
	if err != nil || f == nil {
		return 0, err
	}
	return int64(*f), nil
}

func optionalDecimal(v any) (*decimal.Decimal, error) {
	if blank(v) {
		return nil, nil
	}
	switch t := v.(type) {
	case decimal.Decimal:
		return &t, nil
	case *decimal.Decimal:
		return t, nil
	case float64:
		d := decimal.NewFromFloat(t)
		return &d, nil
	case int64:
		d := decimal.NewFromInt(t)
		return &d, nil
	case int:
		d := decimal.NewFromInt(int64(t))
		return &d, nil
	default:
		s, _ := asString(t)
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("not a decimal: %q", s)
		}
		return &d, nil
	}
}

func boolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		s, ok := asString(v)
		if !ok {
			return false
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(s))
		return err == nil && parsed
	}
}

func optionalTime(v any) (*time.Time, error) {
	if blank(v) {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil, nil
		}
		utc := t.UTC()
		return &utc, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		utc := t.UTC()
		return &utc, nil
	}
	s, _ := asString(v)
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			parsed = parsed.UTC()
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

func uuidValue(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case nil:
		return uuid.Nil, nil
	case uuid.UUID:
		return t, nil
	case [16]byte:
		return uuid.UUID(t), nil
	case []byte:
		if len(t) == 16 {
			return uuid.FromBytes(t)
		}
		return uuid.Parse(strings.TrimSpace(string(t)))
	default:
		s, _ := asString(t)
		if strings.TrimSpace(s) == "" {
			return uuid.Nil, nil
		}
		return uuid.Parse(strings.TrimSpace(s))
	}
}

// decodeJSON decodes JSON text, or re-encodes an already decoded value, into out.
func decodeJSON(v any, out any) error {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		raw = encoded
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// featureSet normalizes a feature or amenity column into the canonical map.
// Arrays become {name: true}; maps pass through unchanged. Text that is not
// JSON is read as a Postgres array literal ("{pool,garage}") or a comma list.
func featureSet(v any) (map[string]bool, error) {
	out := map[string]bool{}
	switch t := v.(type) {
	case nil:
		return out, nil
	case map[string]bool:
		for k, on := range t {
			out[k] = on
		}
		return out, nil
	case map[string]any:
		for k, raw := range t {
			out[k] = boolValue(raw)
		}
		return out, nil
	case []string:
		addNames(out, t)
		return out, nil
	case []any:
		for _, item := range t {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("feature entries must be strings, got %T", item)
			}
			addNames(out, []string{name})
		}
		return out, nil
	}

	s, _ := asString(v)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		if _, isString := decoded.(string); !isString {
			return featureSet(decoded)
		}
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	names := strings.Split(s, ",")
	for i := range names {
		names[i] = strings.Trim(strings.TrimSpace(names[i]), `"`)
	}
	addNames(out, names)
	return out, nil
}

func addNames(set map[string]bool, names []string) {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			set[name] = true
		}
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
