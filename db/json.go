package db

import "encoding/json"

// marshalStrings and unmarshalStrings store a []string as a JSON array in a
// text column -- used for permission sets, which the spec treats as
// opaque structured blobs at the storage boundary.
func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil, err
	}
	return ss, nil
}
