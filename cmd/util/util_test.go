package util

import (
	"reflect"
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line longer than %d: %q", Wrap, line)
		}
	}
	if got := WrapString("  short   text "); got != "short text" {
		t.Errorf("WrapString() = %q", got)
	}
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, map[string]string{}, false},
		{"separate values", []string{"a=1", "b=2"}, map[string]string{"a": "1", "b": "2"}, false},
		{"comma separated", []string{"a=localhost:1, b=localhost:2"}, map[string]string{"a": "localhost:1", "b": "localhost:2"}, false},
		{"missing value", []string{"a="}, nil, true},
		{"missing separator", []string{"a"}, nil, true},
		{"duplicate", []string{"a=1,a=2"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAssignments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseAssignments() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseModules(t *testing.T) {
	got, err := ParseModules([]string{"hello a b", "other", "  "})
	if err != nil {
		t.Fatalf("ParseModules() error = %v", err)
	}
	want := map[string][]string{"hello": {"a", "b"}, "other": {}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseModules() = %v, want %v", got, want)
	}
	if _, err := ParseModules([]string{"hello", "hello x"}); err == nil {
		t.Error("Expected duplicate module to fail")
	}
}
