// Package marshal converts scalar values between resolver results, request
// arguments and their JSON wire form.
package marshal

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DateTimeLayout is the wire format of DateTime values
const DateTimeLayout = time.RFC3339Nano

// Output normalises a leaf value before it is written to the response.
// Times become RFC 3339 strings, byte slices become strings and
// driver.Valuer values are unwrapped.
func Output(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return val.UTC().Format(DateTimeLayout), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC().Format(DateTimeLayout), nil
	case []byte:
		return string(val), nil
	case json.RawMessage:
		var out interface{}
		if err := json.Unmarshal(val, &out); err != nil {
			return nil, err
		}
		return out, nil
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil {
			return nil, err
		}
		return Output(dv)
	}
	return v, nil
}

// UnmarshalInt unmarshals an int
func UnmarshalInt(v interface{}) (int, error) {
	switch v := v.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("cannot unmarshal %v as int", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	case json.Number:
		i, err := v.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("cannot unmarshal %T as int", v)
	}
}

// UnmarshalID unmarshals an ID
func UnmarshalID(v interface{}) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("cannot unmarshal %T as ID", v)
	}
}

// UnmarshalTime accepts RFC 3339 strings and time values
func UnmarshalTime(v interface{}) (time.Time, error) {
	switch v := v.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, v)
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, nil
		}
		return *v, nil
	default:
		return time.Time{}, fmt.Errorf("cannot unmarshal %T as DateTime", v)
	}
}

// UnmarshalJSON accepts already-decoded JSON or a string holding a JSON document
func UnmarshalJSON(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case string:
		var result interface{}
		if err := json.Unmarshal([]byte(v), &result); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return result, nil
	default:
		return v, nil
	}
}

// UnmarshalMap unmarshals a JSON object
func UnmarshalMap(v interface{}) (map[string]interface{}, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return v, nil
	case string:
		var result map[string]interface{}
		if err := json.Unmarshal([]byte(v), &result); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("cannot unmarshal %T as map", v)
	}
}

// DateTime marshals resolver values of the DateTime scalar
func DateTime(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return time.Unix(val, 0).UTC().Format(DateTimeLayout), nil
	}
	return Output(v)
}

// ParseDateTime unmarshals DateTime arguments into time.Time
func ParseDateTime(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	return UnmarshalTime(v)
}

// JSON marshals resolver values of the JSON scalar. Strings holding a JSON
// document are passed through as strings.
func JSON(v interface{}) (interface{}, error) {
	return Output(v)
}
