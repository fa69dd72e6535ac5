package shadow

import (
	"encoding/json"

	dErrors "shadowrt/pkg/domain-errors"
)

// canonicalBytes is what gets hashed for a value. Byte slices and strings are
// hashed as-is; everything else as its encoding/json form, which sorts map
// keys and keeps struct field order, so equal values hash equally.
func canonicalBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case json.RawMessage:
		return x, nil
	case string:
		return []byte(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "labeled value is not serializable")
	}
	return b, nil
}

func decodeBody[T any](body []byte) (T, error) {
	var v T
	switch p := any(&v).(type) {
	case *[]byte:
		*p = append([]byte(nil), body...)
		return v, nil
	case *string:
		*p = string(body)
		return v, nil
	case *json.RawMessage:
		*p = append(json.RawMessage(nil), body...)
		return v, nil
	}
	if len(body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeBadRequest, "decode labeled body")
	}
	return v, nil
}
