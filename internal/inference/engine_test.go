// SPDX-License-Identifier: MIT
package inference

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRuntime(t *testing.T) {
	tests := []struct {
		in   string
		want Runtime
	}{
		{"CPU", CPU},
		{"GPU", GPU},
		{"DSP", DSP},
		{"dsp", CPU},
		{"gpu", CPU},
		{" GPU ", CPU},
		{"", CPU},
		{"NPU", CPU},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseRuntime(tt.in); got != tt.want {
				t.Errorf("ParseRuntime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestShapeSize(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
	}{
		{Shape{4, 4, 3}, 48},
		{Shape{1, 4, 4, 3}, 48},
		{Shape{0, 4}, 0},
		{Shape{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.shape.String(), func(t *testing.T) {
			if got := tt.shape.Size(); got != tt.want {
				t.Errorf("Size() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDenseTensor(t *testing.T) {
	tensor, err := NewDenseTensor(Shape{2, 3})
	if err != nil {
		t.Fatalf("NewDenseTensor: %v", err)
	}
	if tensor.Size() != 6 {
		t.Errorf("Size() = %d, want 6", tensor.Size())
	}

	if _, err := NewDenseTensor(Shape{0}); err == nil {
		t.Error("expected error for empty shape")
	}
	if _, err := WrapDenseTensor(Shape{2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for mismatched data")
	}
}

func TestTensorMapNamesSorted(t *testing.T) {
	a, _ := NewDenseTensor(Shape{1})
	m := TensorMap{"doa": a, "azimuth": a, "confidence": a}
	if diff := cmp.Diff([]string{"azimuth", "confidence", "doa"}, m.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}
