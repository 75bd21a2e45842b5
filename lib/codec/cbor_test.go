// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestDeterministicEncoding(t *testing.T) {
	// Deterministic encoding: the same logical map always encodes to
	// identical bytes, regardless of insertion order.
	a, err := Marshal(map[string]int{"alpha": 1, "beta": 2, "gamma": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(map[string]int{"gamma": 3, "alpha": 1, "beta": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("encodings differ:\n  %x\n  %x", a, b)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	type wide struct {
		Name  string `cbor:"name"`
		Extra string `cbor:"extra"`
	}
	type narrow struct {
		Name string `cbor:"name"`
	}

	data, err := Marshal(wide{Name: "job", Extra: "ignored"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got narrow
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "job" {
		t.Errorf("Name = %q, want %q", got.Name, "job")
	}
}

func TestAnyTargetDecodesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got any
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", got)
	}
	if m["k"] != "v" {
		t.Errorf(`m["k"] = %v, want "v"`, m["k"])
	}
}
