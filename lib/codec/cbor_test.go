// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{
		"zulu":  1,
		"alpha": "two",
		"mike":  []any{"a", "b"},
	}
	first, err := Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value encoded to different bytes")
	}
}

func TestRoundTripStruct(t *testing.T) {
	type frame struct {
		Sequence uint64   `cbor:"seq"`
		Agents   []string `cbor:"agents"`
	}
	in := frame{Sequence: 42, Agents: []string{"hera", "iris"}}

	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out frame
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Sequence != in.Sequence || len(out.Agents) != 2 || out.Agents[0] != "hera" {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"status": "active"})
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(map[string]any); !ok {
		t.Errorf("decoded type = %T, want map[string]any", out)
	}
}
