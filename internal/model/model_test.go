package model

import "testing"

func TestCausalMask(t *testing.T) {
	t.Parallel()
	mask := CausalMask(3)
	want := []bool{
		true, false, false,
		true, true, false,
		true, true, true,
	}
	if len(mask) != len(want) {
		t.Fatalf("mask length: got %d want %d", len(mask), len(want))
	}
	for i := range want {
		if mask[i] != want[i] {
			t.Fatalf("mask[%d]: got %v want %v", i, mask[i], want[i])
		}
	}
}

func TestCausalMaskPanicsOnBadSize(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive size")
		}
	}()
	CausalMask(0)
}
