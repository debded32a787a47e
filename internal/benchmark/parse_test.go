package benchmark

import (
	"encoding/json"
	"strings"
	"testing"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLatestPoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		doc   string
		want  Point
		found bool
	}{
		{
			name:  "list of series",
			doc:   `[{"name":"turtlebp","data":[[1600000000,0.3],[1600000100,0.4]]},{"name":"other","data":[[1600000000,0.2]]}]`,
			want:  Point{1600000100, 0.4},
			found: true,
		},
		{
			name:  "empty matching series is skipped",
			doc:   `[{"name":"turtlebp","data":[]},{"name":"turtlebp","data":[[1600000300,0.7]]}]`,
			want:  Point{1600000300, 0.7},
			found: true,
		},
		{
			name:  "large integer timestamp is exact",
			doc:   `{"turtlebp":[[9007199254740993,0.1]]}`,
			want:  Point{9007199254740993, 0.1},
			found: true,
		},
		{
			name:  "map of series",
			doc:   `{"turtlebp":[[1600000000,0.2],[1600000200,0.25]],"other":[[1600000000,0.3]]}`,
			want:  Point{1600000200, 0.25},
			found: true,
		},
		{
			name:  "csv lines last match wins",
			doc:   `["turtlebp,1600000300,0.37","turtlebp,1600000400,0.45","other,1600000400,0.30"]`,
			want:  Point{1600000400, 0.45},
			found: true,
		},
		{
			name:  "csv skips malformed lines",
			doc:   `["turtlebp,abc,0.5","turtlebp,1600000500,0.33","turtlebp,1"]`,
			want:  Point{1600000500, 0.33},
			found: true,
		},
		{name: "missing target", doc: `[{"name":"other","data":[[1600000000,0.3]]}]`},
		{name: "empty list", doc: `[]`},
		{name: "empty map", doc: `{}`},
		{name: "scalar", doc: `"invalid"`},
		{name: "dict without name", doc: `[{"invalid":"data"}]`},
		{name: "empty series", doc: `{"turtlebp":[]}`},
		{name: "short pair", doc: `{"turtlebp":[[1600000000]]}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := LatestPoint(decode(t, tt.doc), "turtlebp")
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
