package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/scotusdata/harvester/internal/harvest"
)

// ShapeKind tags the structural variants a raw payload can take. Dispatch is
// over the tag, never by probing fields at each call site.
type ShapeKind int

const (
	// ShapeObject is a bare JSON object.
	ShapeObject ShapeKind = iota
	// ShapeEmptyList is [].
	ShapeEmptyList
	// ShapeSingleList is a one-element list wrapping an object.
	ShapeSingleList
	// ShapeMultiList is a list with two or more elements.
	ShapeMultiList
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeObject:
		return "object"
	case ShapeEmptyList:
		return "empty_list"
	case ShapeSingleList:
		return "single_list"
	case ShapeMultiList:
		return "multi_list"
	default:
		return fmt.Sprintf("shape(%d)", int(k))
	}
}

// Shape is a decoded payload with its structural variant made explicit.
type Shape struct {
	Kind     ShapeKind
	Object   map[string]any   // set for ShapeObject and ShapeSingleList
	Elements []map[string]any // set for list shapes
}

// DecodeShape parses a raw body into its tagged structural variant.
func DecodeShape(body []byte) (Shape, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return Shape{}, &harvest.NormalizationError{Field: "body", Reason: "empty payload"}
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			return Shape{}, &harvest.NormalizationError{Field: "body", Reason: "invalid json: " + err.Error()}
		}
		return Shape{Kind: ShapeObject, Object: obj}, nil
	case '[':
		var list []map[string]any
		if err := json.Unmarshal(body, &list); err != nil {
			return Shape{}, &harvest.NormalizationError{Field: "body", Reason: "invalid json list: " + err.Error()}
		}
		switch len(list) {
		case 0:
			return Shape{Kind: ShapeEmptyList, Elements: list}, nil
		case 1:
			return Shape{Kind: ShapeSingleList, Object: list[0], Elements: list}, nil
		default:
			return Shape{Kind: ShapeMultiList, Elements: list}, nil
		}
	default:
		return Shape{}, &harvest.NormalizationError{Field: "body", Reason: "payload is neither object nor list"}
	}
}

// UnwrapObject reduces a shape expected to hold exactly one object. A
// single-element list unwraps one level; empty and multi-element lists are
// typed failures.
func UnwrapObject(s Shape) (map[string]any, error) {
	switch s.Kind {
	case ShapeObject, ShapeSingleList:
		return s.Object, nil
	case ShapeEmptyList:
		return nil, &harvest.NormalizationError{Field: "body", Reason: "expected one object, got empty list"}
	case ShapeMultiList:
		return nil, &harvest.NormalizationError{
			Field:  "body",
			Reason: fmt.Sprintf("expected one object, got list of %d", len(s.Elements)),
		}
	default:
		return nil, &harvest.NormalizationError{Field: "body", Reason: "unexpected shape " + s.Kind.String()}
	}
}
