package glitch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a set of pulse timing values, usually loaded from YAML:
//
//	device: /dev/ttyUSB1
//	offset: 1
//	width: 4000
//	repeat: 1
//
// Unset registers are left alone on the device.
type Profile struct {
	Device string  `yaml:"device,omitempty"`
	Offset *uint32 `yaml:"offset,omitempty"`
	Width  *uint32 `yaml:"width,omitempty"`
	Repeat *uint32 `yaml:"repeat,omitempty"`
}

// applyOrder is the order registers are written in: the repeat count first,
// then offset and width.
var applyOrder = []Param{Repeat, Offset, Width}

func LoadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening profile: %w", err)
	}
	defer f.Close()

	p, err := ParseProfile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func ParseProfile(r io.Reader) (*Profile, error) {
	var p Profile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty profile")
		}
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) Validate() error {
	if p.Offset == nil && p.Width == nil && p.Repeat == nil {
		return fmt.Errorf("profile sets no parameters")
	}
	return nil
}

// Value returns the profile's value for param, if set.
func (p *Profile) Value(param Param) (uint32, bool) {
	var v *uint32
	switch param {
	case Offset:
		v = p.Offset
	case Width:
		v = p.Width
	case Repeat:
		v = p.Repeat
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

func (p *Profile) SetValue(param Param, v uint32) {
	switch param {
	case Offset:
		p.Offset = &v
	case Width:
		p.Width = &v
	case Repeat:
		p.Repeat = &v
	}
}

func (p *Profile) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	return buf.Bytes(), nil
}

// Apply writes every register the profile sets.
func (c *Client) Apply(p *Profile) error {
	for _, param := range applyOrder {
		v, ok := p.Value(param)
		if !ok {
			continue
		}
		if err := c.Set(param, uint64(v)); err != nil {
			return fmt.Errorf("applying %s: %w", param, err)
		}
	}
	return nil
}

// Verify reads back every register the profile sets. Registers that differ
// or do not answer are reported in a *MismatchError.
func (c *Client) Verify(p *Profile) error {
	var mismatch MismatchError

	for _, param := range applyOrder {
		want, ok := p.Value(param)
		if !ok {
			continue
		}

		got, answered, err := c.Get(param)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", param, err)
		}
		if !answered || got != want {
			mismatch.Params = append(mismatch.Params, ParamMismatch{
				Param:    param,
				Want:     want,
				Got:      got,
				Answered: answered,
			})
		}
	}

	if len(mismatch.Params) > 0 {
		return &mismatch
	}
	return nil
}

// Snapshot reads all registers into a profile. Registers that do not answer
// are left unset.
func (c *Client) Snapshot() (*Profile, error) {
	var p Profile
	for _, param := range Params {
		v, ok, err := c.Get(param)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", param, err)
		}
		if ok {
			p.SetValue(param, v)
		}
	}
	return &p, nil
}
