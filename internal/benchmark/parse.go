package benchmark

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Point is one sample of a benchmark series. Value is in seconds.
type Point struct {
	Timestamp int64
	Value     float64
}

// LatestPoint finds the newest sample for name in a decoded JSON document.
// Three layouts are understood:
//
//	[{"name": "x", "data": [[ts, val], ...]}, ...]
//	{"x": [[ts, val], ...], ...}
//	["x,ts,val", ...]          (last matching line wins)
//
// Decode with json.Decoder.UseNumber so integer timestamps are read exactly.
func LatestPoint(doc any, name string) (Point, bool) {
	switch v := doc.(type) {
	case []any:
		if len(v) == 0 {
			return Point{}, false
		}
		switch v[0].(type) {
		case string:
			return latestFromLines(v, name)
		case map[string]any:
			for _, it := range v {
				m, ok := it.(map[string]any)
				if !ok || m["name"] != name {
					continue
				}
				series, _ := m["data"].([]any)
				if p, ok := lastPair(series); ok {
					return p, true
				}
			}
		}
	case map[string]any:
		series, ok := v[name].([]any)
		if !ok {
			return Point{}, false
		}
		return lastPair(series)
	}
	return Point{}, false
}

func latestFromLines(lines []any, name string) (Point, bool) {
	var (
		out   Point
		found bool
	)
	for _, raw := range lines {
		line, ok := raw.(string)
		if !ok {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 || strings.TrimSpace(parts[0]) != name {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			continue
		}
		out, found = Point{Timestamp: ts, Value: val}, true
	}
	return out, found
}

func lastPair(series []any) (Point, bool) {
	if len(series) == 0 {
		return Point{}, false
	}
	pair, ok := series[len(series)-1].([]any)
	if !ok || len(pair) < 2 {
		return Point{}, false
	}
	ts, ok1 := timestamp(pair[0])
	val, ok2 := number(pair[1])
	if !ok1 || !ok2 {
		return Point{}, false
	}
	return Point{Timestamp: ts, Value: val}, true
}

func timestamp(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := number(v)
	return int64(f), ok
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
