// internal/dictionary/dictionary.go
package dictionary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"canfix-service/pkg/can"
)

// Protocol identity the dictionary document must declare.
const (
	ProtocolName    = "CAN-FIX"
	ProtocolVersion = "1.0"
)

// ParameterDef describes one CAN-FIX parameter.
type ParameterDef struct {
	ID         uint16         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	Units      string         `yaml:"units" json:"units,omitempty"`
	Type       string         `yaml:"type" json:"type"`
	Multiplier float64        `yaml:"multiplier" json:"multiplier"`
	Offset     float64        `yaml:"offset" json:"offset,omitempty"`
	Min        *float64       `yaml:"min" json:"min,omitempty"`
	Max        *float64       `yaml:"max" json:"max,omitempty"`
	IndexName  string         `yaml:"index" json:"index,omitempty"`
	Format     string         `yaml:"format" json:"format,omitempty"`
	Aux        map[int]string `yaml:"aux" json:"aux,omitempty"`
	Remarks    string         `yaml:"remarks" json:"remarks,omitempty"`
	Count      int            `yaml:"count" json:"-"`
}

// MetaName returns the aux entry for a function-byte selector.
func (p *ParameterDef) MetaName(selector int) (string, bool) {
	name, ok := p.Aux[selector]
	return name, ok
}

// MetaSelector is the inverse of MetaName, case-insensitive.
func (p *ParameterDef) MetaSelector(name string) (int, bool) {
	for sel, n := range p.Aux {
		if strings.EqualFold(n, name) {
			return sel, true
		}
	}
	return 0, false
}

// Group is a named id range, e.g. "Flight Data".
type Group struct {
	Name    string `yaml:"name" json:"name"`
	StartID uint16 `yaml:"startid" json:"startid"`
	EndID   uint16 `yaml:"endid" json:"endid"`
}

type document struct {
	Protocol   string         `yaml:"protocol"`
	Version    string         `yaml:"version"`
	Groups     []Group        `yaml:"groups"`
	Parameters []ParameterDef `yaml:"parameters"`
}

// Dictionary is the immutable parameter registry. Build it once with
// Load or Parse and share the pointer.
type Dictionary struct {
	version string
	groups  []Group
	byID    map[uint16]*ParameterDef
	byName  map[string]*ParameterDef
	ordered []*ParameterDef
}

// Load reads and parses a dictionary file.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter dictionary: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parameter dictionary %s: %w", path, err)
	}
	return d, nil
}

// Parse builds a dictionary from a YAML or JSON document.
func Parse(data []byte) (*Dictionary, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode dictionary: %w", err)
	}

	if doc.Protocol != ProtocolName {
		return nil, fmt.Errorf("protocol %q does not match %q", doc.Protocol, ProtocolName)
	}
	if doc.Version != ProtocolVersion {
		return nil, fmt.Errorf("protocol version %q does not match %q", doc.Version, ProtocolVersion)
	}

	d := &Dictionary{
		version: doc.Version,
		groups:  doc.Groups,
		byID:    make(map[uint16]*ParameterDef),
		byName:  make(map[string]*ParameterDef),
	}

	for _, entry := range doc.Parameters {
		for _, def := range expand(entry) {
			if err := d.add(def); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(d.ordered, func(i, j int) bool { return d.ordered[i].ID < d.ordered[j].ID })
	return d, nil
}

// expand turns an entry with a repeat count into sequential definitions.
func expand(entry ParameterDef) []ParameterDef {
	if entry.Multiplier == 0 {
		entry.Multiplier = 1.0
	}
	if entry.Count <= 1 {
		entry.Count = 0
		return []ParameterDef{entry}
	}

	defs := make([]ParameterDef, 0, entry.Count)
	for i := 0; i < entry.Count; i++ {
		def := entry
		def.ID = entry.ID + uint16(i)
		def.Name = fmt.Sprintf("%s #%d", entry.Name, i+1)
		def.Count = 0
		defs = append(defs, def)
	}
	return defs
}

func (d *Dictionary) add(def ParameterDef) error {
	if def.ID > can.MaxID {
		return fmt.Errorf("parameter %q: id %d out of range", def.Name, def.ID)
	}
	if def.Name == "" {
		return fmt.Errorf("parameter id %d has no name", def.ID)
	}
	if def.Type == "" {
		return fmt.Errorf("parameter %q has no type", def.Name)
	}
	if _, exists := d.byID[def.ID]; exists {
		return fmt.Errorf("duplicate parameter id %d (%s)", def.ID, def.Name)
	}

	p := def
	d.byID[p.ID] = &p
	d.byName[strings.ToLower(p.Name)] = &p
	d.ordered = append(d.ordered, &p)
	return nil
}

// Version returns the protocol version the document declared.
func (d *Dictionary) Version() string {
	return d.version
}

// Lookup returns the definition for id.
func (d *Dictionary) Lookup(id uint16) (*ParameterDef, error) {
	p, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: no parameter with id %d", can.ErrLookup, id)
	}
	return p, nil
}

// LookupName finds a definition by exact name, ignoring case.
func (d *Dictionary) LookupName(name string) (*ParameterDef, error) {
	p, ok := d.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: no parameter named %q", can.ErrLookup, name)
	}
	return p, nil
}

// Parameters returns all definitions ordered by id.
func (d *Dictionary) Parameters() []*ParameterDef {
	out := make([]*ParameterDef, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Len returns the number of parameters after repeat expansion.
func (d *Dictionary) Len() int {
	return len(d.ordered)
}

// Groups returns the declared id ranges.
func (d *Dictionary) Groups() []Group {
	out := make([]Group, len(d.groups))
	copy(out, d.groups)
	return out
}

// GroupOf returns the group whose range contains id.
func (d *Dictionary) GroupOf(id uint16) (Group, bool) {
	for _, g := range d.groups {
		if id >= g.StartID && id <= g.EndID {
			return g, true
		}
	}
	return Group{}, false
}
