package types

import (
	"errors"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     BBoxRecord
		wantErr bool
	}{
		{"valid box", BBoxRecord{Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.1}, false},
		{"touching edge", BBoxRecord{Cx: 0.9, Cy: 0.5, W: 0.2, H: 0.1}, false},
		{"zero width", BBoxRecord{Cx: 0.5, Cy: 0.5, W: 0, H: 0.1}, true},
		{"zero height", BBoxRecord{Cx: 0.5, Cy: 0.5, W: 0.1, H: 0}, true},
		{"negative width", BBoxRecord{Cx: 0.5, Cy: 0.5, W: -0.1, H: 0.1}, true},
		{"cx outside range", BBoxRecord{Cx: 1.5, Cy: 0.5, W: 0.1, H: 0.1}, true},
		{"negative class", BBoxRecord{ClassID: intPtr(-1), Cx: 0.5, Cy: 0.5, W: 0.1, H: 0.1}, true},
		{"within epsilon", BBoxRecord{Cx: 1 + 1e-9, Cy: 0.5, W: 0.1, H: 0.1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var gerr *GeometryError
				if !errors.As(err, &gerr) {
					t.Errorf("expected GeometryError, got %T", err)
				}
			}
		})
	}
}

func TestClamp(t *testing.T) {
	rec := BBoxRecord{Cx: 0.95, Cy: 0.5, W: 0.2, H: 0.1}
	out, clamped := rec.Clamp()
	if !clamped {
		t.Fatal("expected clamp to trigger")
	}
	if right := out.Cx + out.W/2; right > 1+Epsilon {
		t.Errorf("right edge still outside: %g", right)
	}
	if left := out.Cx - out.W/2; left < 0.85-1e-9 {
		t.Errorf("clamp should keep the in-bounds part, left=%g", left)
	}
	// Untouched axis stays put
	if out.Cy != rec.Cy || out.H != rec.H {
		t.Errorf("vertical geometry changed: %+v", out)
	}
}

func TestClampNoop(t *testing.T) {
	rec := BBoxRecord{Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.2}
	out, clamped := rec.Clamp()
	if clamped {
		t.Error("clamp triggered on an in-bounds box")
	}
	if out != rec {
		t.Errorf("record changed: %+v", out)
	}
}

func TestLabel(t *testing.T) {
	if got := (BBoxRecord{Description: "hole in gable"}).Label(); got != "hole in gable" {
		t.Errorf("Label() = %q", got)
	}
	if got := (BBoxRecord{ClassID: intPtr(3)}).Label(); got != "class 3" {
		t.Errorf("Label() = %q", got)
	}
	if got := (BBoxRecord{}).Label(); got != "bbox" {
		t.Errorf("Label() = %q", got)
	}
}

func TestClass(t *testing.T) {
	if got := (BBoxRecord{}).Class(0); got != 0 {
		t.Errorf("Class() fallback = %d", got)
	}
	if got := (BBoxRecord{ClassID: intPtr(5)}).Class(0); got != 5 {
		t.Errorf("Class() = %d", got)
	}
}
