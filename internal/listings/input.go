package listing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
)

// Form posts send numerics as text and leave untouched inputs as "". These
// keys are coerced before the body is decoded into a typed form.
var (
	floatInputs    = []string{"square_feet", "bathrooms", "lot_size", "latitude", "longitude"}
	intInputs      = []string{"bedrooms", "year_built", "parking_spaces", "stories"}
	decimalInputs  = []string{"price"}
	nestedFloatsIn = map[string][]string{"commission": {"split_percentage"}}
	nestedDecIn    = map[string][]string{"commission": {"amount"}}
)

// DecodeFormInput decodes a create body. Blank numerics are unset.
func DecodeFormInput(data []byte) (FormValues, error) {
	var form FormValues
	if err := decodeInput(data, &form); err != nil {
		return FormValues{}, err
	}
	return form, nil
}

// DecodePatchInput decodes an update body. Blank numerics are treated as
// absent and keep their current value. The id a client echoes back from the
// edit form is ignored.
func DecodePatchInput(data []byte) (Patch, error) {
	var patch Patch
	if err := decodeInput(data, &patch, "id"); err != nil {
		return Patch{}, err
	}
	return patch, nil
}

func decodeInput(data []byte, out any, ignored ...string) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if raw == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must be an object")
	}

	for _, key := range ignored {
		delete(raw, key)
	}

	fields := map[string]string{}
	coerceNumbers(raw, "", floatInputs, intInputs, decimalInputs, fields)
	for parent, keys := range nestedFloatsIn {
		if child, ok := raw[parent].(map[string]any); ok {
			coerceNumbers(child, parent+".", keys, nil, nestedDecIn[parent], fields)
		}
	}
	if len(fields) > 0 {
		return pkgerrors.Validation("invalid listing", fields)
	}

	normalized, err := json.Marshal(raw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-encode request body")
	}
	strict := json.NewDecoder(bytes.NewReader(normalized))
	strict.DisallowUnknownFields()
	if err := strict.Decode(out); err != nil {
		return typeError(err)
	}
	return nil
}

func coerceNumbers(raw map[string]any, prefix string, floats, ints, decimals []string, fields map[string]string) {
	for _, key := range floats {
		v, ok := raw[key]
		if !ok {
			continue
		}
		f, err := optionalFloat(v)
		switch {
		case err != nil:
			fields[prefix+key] = "must be a number"
		case f == nil:
			delete(raw, key)
		default:
			raw[key] = *f
		}
	}
	for _, key := range ints {
		v, ok := raw[key]
		if !ok {
			continue
		}
		i, err := optionalInt(v)
		switch {
		case err != nil:
			fields[prefix+key] = "must be a whole number"
		case i == nil:
			delete(raw, key)
		default:
			raw[key] = *i
		}
	}
	for _, key := range decimals {
		v, ok := raw[key]
		if !ok {
			continue
		}
		d, err := optionalDecimal(v)
		switch {
		case err != nil:
			fields[prefix+key] = "must be a number"
		case d == nil:
			delete(raw, key)
		default:
			raw[key] = d.String()
		}
	}
}

func typeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return pkgerrors.Validation("invalid listing", map[string]string{
			typeErr.Field: fmt.Sprintf("must be %s", describeKind(typeErr.Type.Kind().String())),
		})
	}
	if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field ") {
		field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
		return pkgerrors.Validation("invalid listing", map[string]string{field: "is not a listing field"})
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
}

func describeKind(kind string) string {
	switch kind {
	case "string":
		return "text"
	case "bool":
		return "true or false"
	case "map", "struct":
		return "an object"
	case "slice", "array":
		return "a list"
	default:
		return "a " + kind
	}
}
