package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIntList converts a list option to []int. It accepts the forms viper
// hands back from defaults, YAML files, flags and environment variables:
// []int, []any and comma or space separated strings such as "10,10,1" or "[10 10 1]".
func ParseIntList(raw any) ([]int, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case []int:
		return append([]int(nil), val...), nil
	case []any:
		out := make([]int, 0, len(val))
		for _, item := range val {
			n, err := toInt(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case []string:
		return parseFields(val)
	case string:
		s := strings.Trim(strings.TrimSpace(val), "[]")
		fields := strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ' ' || r == 'x'
		})
		return parseFields(fields)
	}
	return nil, fmt.Errorf("unsupported list value %v (%T)", raw, raw)
}

func parseFields(fields []string) ([]int, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

func toInt(item any) (int, error) {
	switch n := item.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("non-integer value %v", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	}
	return 0, fmt.Errorf("unsupported list item %v (%T)", item, item)
}
