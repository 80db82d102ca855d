package can

import (
	"errors"
	"testing"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"zero id", NewFrame(0), false},
		{"max id", NewFrame(MaxID, 1, 2, 3), false},
		{"id too large", NewFrame(MaxID + 1), true},
		{"eight bytes", NewFrame(0x100, 1, 2, 3, 4, 5, 6, 7, 8), false},
		{"nine bytes", NewFrame(0x100, 1, 2, 3, 4, 5, 6, 7, 8, 9), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFrameStringParse(t *testing.T) {
	f := NewFrame(0x183, 0x01, 0x00, 0x00, 0xE8, 0x03)
	if got := f.String(); got != "183#010000E803" {
		t.Fatalf("String() = %q", got)
	}
	back, err := ParseFrame(f.String())
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if !back.Equal(f) {
		t.Fatalf("round trip mismatch: %v != %v", back, f)
	}
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	for _, in := range []string{"183", "XYZ#00", "183#0", "800#00"} {
		if _, err := ParseFrame(in); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseFrame(%q) expected ErrValidation, got %v", in, err)
		}
	}
}

func TestFrameCloneIsIndependent(t *testing.T) {
	f := NewFrame(1, 1, 2)
	c := f.Clone()
	c.Data[0] = 9
	if f.Data[0] != 1 {
		t.Fatalf("clone shares data with source frame")
	}
}
