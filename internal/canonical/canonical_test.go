package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/canonical"
)

func TestSortedKeys(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}

	ca, err := canonical.Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical outputs differ:\nA: %s\nB: %s", ca, cb)
	}

	var tmp interface{}
	if err := json.Unmarshal(ca, &tmp); err != nil {
		t.Fatalf("canonical output is not valid JSON: %v", err)
	}
}

func TestStructsEncodeDeterministically(t *testing.T) {
	type rec struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	first, err := canonical.Marshal(rec{Name: "challenger", Score: 0.91})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := canonical.Marshal(rec{Name: "challenger", Score: 0.91})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("struct encoding not deterministic:\n%s\n%s", first, second)
	}
}

func TestNumbersArraysAndNull(t *testing.T) {
	in := map[string]interface{}{
		"list": []interface{}{3, 2, 1},
		"num":  json.Number("123.45"),
		"str":  "hello",
		"bool": true,
		"nil":  nil,
	}
	c, err := canonical.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(c, &out); err != nil {
		t.Fatalf("unmarshal canonical: %v", err)
	}
	if out["str"] != "hello" {
		t.Fatalf("expected str 'hello', got %#v", out["str"])
	}
	if out["bool"] != true {
		t.Fatalf("expected bool true, got %#v", out["bool"])
	}
	if out["nil"] != nil {
		t.Fatalf("expected nil, got %#v", out["nil"])
	}
}
