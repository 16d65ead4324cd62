package listing

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var rowSchemas = mustCompileSchemas()

func mustCompileSchemas() map[Shape]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	err := fs.WalkDir(schemaFS, "schemas", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		file, err := schemaFS.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		return compiler.AddResource(strings.TrimPrefix(path, "schemas/"), file)
	})
	if err != nil {
		panic(fmt.Sprintf("load listing schemas: %v", err))
	}

	out := make(map[Shape]*jsonschema.Schema, 3)
	for _, shape := range []Shape{ShapeWide, ShapeNormalized, ShapeGeo} {
		schema, err := compiler.Compile(string(shape) + ".json")
		if err != nil {
			panic(fmt.Sprintf("compile %s schema: %v", shape, err))
		}
		out[shape] = schema
	}
	return out
}

// ValidateRawRow checks an imported JSON row against the schema of its
// shape and returns the decoded row.
func ValidateRawRow(shape Shape, raw json.RawMessage) (RawRow, error) {
	schema, ok := rowSchemas[shape]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown listing shape %q", shape))
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "row is not valid json")
	}
	if err := schema.Validate(decoded); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validate row")
		}
		return nil, pkgerrors.Validation(fmt.Sprintf("row does not match %s shape", shape), schemaFieldErrors(verr))
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "row must be a json object")
	}
	return RawRow(obj), nil
}

// schemaFieldErrors keys each leaf failure by its JSON pointer.
func schemaFieldErrors(verr *jsonschema.ValidationError) map[string]string {
	fields := map[string]string{}
	for _, e := range verr.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		key := strings.TrimPrefix(e.InstanceLocation, "/")
		if key == "" {
			key = "row"
		}
		if _, seen := fields[key]; !seen {
			fields[key] = e.Error
		}
	}
	if len(fields) == 0 {
		fields["row"] = verr.Message
	}
	return fields
}

// StorageRowFromImport splits a decoded import object into the main and side
// rows of its shape. Nested images, documents and features sit on the
// object itself for every shape.
func StorageRowFromImport(shape Shape, obj RawRow) StorageRow {
	main := obj.clone()
	row := StorageRow{Shape: shape, Main: main}
	if shape == ShapeWide {
		return row
	}

	row.Images = nestedRows(main, "images")
	row.Documents = nestedRows(main, "documents")
	if commission, ok := main["commission"].(map[string]any); ok {
		row.Commission = RawRow(commission)
	}
	delete(main, "commission")

	if shape == ShapeNormalized {
		row.Features = RawRow{"features": main["features"], "amenities": main["amenities"]}
		delete(main, "features")
		delete(main, "amenities")
	}
	return row
}

func nestedRows(main RawRow, col string) []RawRow {
	items, _ := main[col].([]any)
	delete(main, col)
	rows := make([]RawRow, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, RawRow(m))
		}
	}
	return rows
}
