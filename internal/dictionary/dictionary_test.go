package dictionary

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"canfix-service/pkg/can"
)

func loadTestdata(t *testing.T) *Dictionary {
	t.Helper()
	d, err := Load(filepath.Join("testdata", "canfix.yaml"))
	if err != nil {
		t.Fatalf("load dictionary: %v", err)
	}
	return d
}

func TestLoadTestdata(t *testing.T) {
	d := loadTestdata(t)
	if d.Version() != ProtocolVersion {
		t.Fatalf("version = %q", d.Version())
	}

	ias, err := d.Lookup(387)
	if err != nil {
		t.Fatalf("lookup 387: %v", err)
	}
	if ias.Name != "Indicated Airspeed" || ias.Type != "UINT" || ias.Multiplier != 0.1 {
		t.Fatalf("unexpected airspeed definition: %+v", ias)
	}
	if ias.Max == nil || *ias.Max != 999.9 {
		t.Fatalf("max not loaded: %+v", ias.Max)
	}
	if name, ok := ias.MetaName(5); !ok || name != "Vne" {
		t.Fatalf("aux 5 = %q %v", name, ok)
	}
}

func TestMultiplierDefaultsToOne(t *testing.T) {
	d := loadTestdata(t)
	alt, err := d.Lookup(388)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if alt.Multiplier != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0", alt.Multiplier)
	}
}

func TestRepeatCountExpansion(t *testing.T) {
	d := loadTestdata(t)
	for i := 0; i < 6; i++ {
		p, err := d.Lookup(uint16(1024 + i))
		if err != nil {
			t.Fatalf("lookup %d: %v", 1024+i, err)
		}
		want := "Cylinder Head Temperature #" + string(rune('1'+i))
		if p.Name != want {
			t.Fatalf("name = %q, want %q", p.Name, want)
		}
	}
	if _, err := d.Lookup(1030); !errors.Is(err, can.ErrLookup) {
		t.Fatalf("expected expansion to stop at #6, got %v", err)
	}
	if _, err := d.LookupName("Cylinder Head Temperature"); !errors.Is(err, can.ErrLookup) {
		t.Fatalf("unsuffixed name should not exist")
	}
}

func TestLookupNameIsCaseInsensitive(t *testing.T) {
	d := loadTestdata(t)
	p, err := d.LookupName("indicated AIRSPEED")
	if err != nil {
		t.Fatalf("lookup name: %v", err)
	}
	if p.ID != 387 {
		t.Fatalf("id = %d", p.ID)
	}
	if _, err := d.LookupName("Indicated"); !errors.Is(err, can.ErrLookup) {
		t.Fatalf("partial names must not match, got %v", err)
	}
}

func TestLookupUnknownID(t *testing.T) {
	d := loadTestdata(t)
	if _, err := d.Lookup(1000); !errors.Is(err, can.ErrLookup) {
		t.Fatalf("expected ErrLookup, got %v", err)
	}
}

func TestParametersOrdered(t *testing.T) {
	d := loadTestdata(t)
	params := d.Parameters()
	if len(params) != d.Len() {
		t.Fatalf("len mismatch")
	}
	for i := 1; i < len(params); i++ {
		if params[i-1].ID >= params[i].ID {
			t.Fatalf("parameters not ordered at %d", i)
		}
	}
}

func TestGroupOf(t *testing.T) {
	d := loadTestdata(t)
	g, ok := d.GroupOf(387)
	if !ok || g.Name != "Flight Data" {
		t.Fatalf("GroupOf(387) = %+v %v", g, ok)
	}
}

func TestParseRejectsBadRoot(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"wrong protocol", "protocol: CANopen\nversion: \"1.0\"\n", "does not match"},
		{"wrong version", "protocol: CAN-FIX\nversion: \"2.0\"\n", "version"},
		{"not a document", "protocol: [unclosed", "decode"},
		{"duplicate id", "protocol: CAN-FIX\nversion: \"1.0\"\nparameters:\n  - {id: 300, name: A, type: UINT}\n  - {id: 300, name: B, type: UINT}\n", "duplicate"},
		{"missing type", "protocol: CAN-FIX\nversion: \"1.0\"\nparameters:\n  - {id: 300, name: A}\n", "no type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	doc := `{"protocol":"CAN-FIX","version":"1.0","parameters":[{"id":300,"name":"Test","type":"UINT","multiplier":0.5}]}`
	d, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	p, err := d.Lookup(300)
	if err != nil || p.Multiplier != 0.5 {
		t.Fatalf("lookup: %+v %v", p, err)
	}
}
