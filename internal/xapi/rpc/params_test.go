// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPrepareParams(t *testing.T) {
	var nilPtr *string

	got := PrepareParams([]any{
		"OpaqueRef:vm",
		42,
		int64(-7),
		uint16(9),
		60.1,
		true,
		[]int{1, 2},
		map[string]any{
			"memory":  int64(1 << 30),
			"dropped": nil,
			"ptr":     nilPtr,
			"nested":  map[string]any{"n": 3, "s": "x"},
		},
		nil,
	})

	want := []any{
		"OpaqueRef:vm",
		"42",
		"-7",
		"9",
		60.1,
		true,
		[]any{"1", "2"},
		map[string]any{
			"memory": "1073741824",
			"nested": map[string]any{"n": "3", "s": "x"},
		},
		nil,
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PrepareParams mismatch (-want +got):\n%s", diff)
	}
}
