// internal/service/decode/extractor.go

package decode

import "errors"

// The wire format carries no field names: every value's meaning is defined
// solely by its index path inside a nested array. These helpers are the only
// place that walks that structure, so a format drift is fixed by changing
// extraction rules here rather than parsing code scattered around.
//
// Two non-values are distinguished: errAbsent (the path runs past the end of
// an array, or lands on an explicit null) means the endpoint omitted the
// field, while errMismatch (the path lands on a value of the wrong type)
// means the record cannot be trusted and should be skipped.
var (
	errAbsent   = errors.New("decode: field not present")
	errMismatch = errors.New("decode: type mismatch at path")
)

// valueAt walks an index path through a generic nested-array value.
func valueAt(entry []any, path ...int) (any, error) {
	var cur any = entry
	for _, idx := range path {
		arr, ok := cur.([]any)
		if !ok {
			return nil, errMismatch
		}
		if idx >= len(arr) {
			return nil, errAbsent
		}
		cur = arr[idx]
	}
	if cur == nil {
		return nil, errAbsent
	}
	return cur, nil
}

// stringAt extracts a string field at the given path.
func stringAt(entry []any, path ...int) (string, error) {
	v, err := valueAt(entry, path...)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errMismatch
	}
	return s, nil
}

// numberAt extracts a numeric field at the given path. JSON numbers decode
// as float64.
func numberAt(entry []any, path ...int) (float64, error) {
	v, err := valueAt(entry, path...)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errMismatch
	}
	return f, nil
}

// boolAt extracts a boolean field at the given path. The endpoint encodes
// flags both as JSON booleans and as 0/1 numbers; both are accepted.
func boolAt(entry []any, path ...int) (bool, error) {
	v, err := valueAt(entry, path...)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	default:
		return false, errMismatch
	}
}
