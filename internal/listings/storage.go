package listing

import "reflect"

// RawRow is one database row keyed by column name, as read or written
// through the generic table API.
type RawRow map[string]any

// StorageRow is a listing in one storage shape: the main row plus whatever
// side rows that shape keeps. Images and Documents are nil when the shape
// embeds them in Main.
type StorageRow struct {
	Shape      Shape
	Main       RawRow
	Features   RawRow
	Images     []RawRow
	Documents  []RawRow
	Commission RawRow
}

// ID returns the main row id in canonical text form.
func (r StorageRow) ID() string {
	if r.Main == nil {
		return ""
	}
	id, err := uuidValue(r.Main["id"])
	if err != nil {
		s, _ := asString(r.Main["id"])
		return s
	}
	return id.String()
}

func (r RawRow) clone() RawRow {
	if r == nil {
		return nil
	}
	out := make(RawRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func rowsToMaps(rows []RawRow) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any(row))
	}
	return out
}

// scannedRow unwraps the pointer values some drivers hand back for columns
// without a declared scan type.
func scannedRow(m map[string]any) RawRow {
	for k, v := range m {
		m[k] = plainValue(v)
	}
	return RawRow(m)
}

func plainValue(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func mapsToRows(maps []map[string]any) []RawRow {
	out := make([]RawRow, 0, len(maps))
	for _, m := range maps {
		out = append(out, RawRow(m))
	}
	return out
}
