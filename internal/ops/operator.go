// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mlnoga/caltrace/internal/filter"
	"github.com/mlnoga/caltrace/internal/frame"
	"github.com/mlnoga/caltrace/internal/median"
)

// A per-frame processing operator, serializable to and from JSON
type Operator interface {
	GetType() string
	IsActive() bool
	Apply(f *frame.Frame, c *Context) (fOut *frame.Frame, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func IsPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false // relative paths only
	}
	if strings.Contains(p, "..") {
		return false // no going outside the tree
	}
	return true
}

// Median blur with a square odd-sized window. Removes salt-and-pepper sensor noise
type OpMedian struct {
	OpBase
	Size int `json:"size"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpMedianDefault() }) } // register the operator for JSON decoding

func NewOpMedianDefault() *OpMedian { return NewOpMedian(3) }

func NewOpMedian(size int) *OpMedian {
	return &OpMedian{
		OpBase: OpBase{Type: "median", Active: true},
		Size:   size,
	}
}

func (op *OpMedian) Apply(f *frame.Frame, c *Context) (result *frame.Frame, err error) {
	if !op.Active {
		return f, nil
	}
	out := frame.New(f.ID, f.Width, f.Height, f.Channels)
	if err := median.Blur(out.View(), f.View(), op.Size); err != nil {
		return nil, fmt.Errorf("%d: median: %w", f.ID, err)
	}
	return out, nil
}

// Removes the given principal components from the frame, treating the smaller
// dimension as the variables. Suppresses stripe artifacts of line-scanning sensors
type OpPCAWipe struct {
	OpBase
	Components []int `json:"components"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpPCAWipeDefault() }) } // register the operator for JSON decoding

func NewOpPCAWipeDefault() *OpPCAWipe { return NewOpPCAWipe([]int{0}) }

func NewOpPCAWipe(components []int) *OpPCAWipe {
	return &OpPCAWipe{
		OpBase:     OpBase{Type: "pcaWipe", Active: len(components) > 0},
		Components: components,
	}
}

func (op *OpPCAWipe) Apply(f *frame.Frame, c *Context) (result *frame.Frame, err error) {
	if !op.Active {
		return f, nil
	}
	wiper, err := filter.NewPCAWiper(op.Components)
	if err != nil {
		return nil, err
	}
	out := frame.New(f.ID, f.Width, f.Height, f.Channels)
	if err := wiper.Apply(out.View(), f.View()); err != nil {
		return nil, fmt.Errorf("%d: PCA wipe: %w", f.ID, err)
	}
	return out, nil
}

// Saves a frame under a given filename, with pattern expansion for %d based on the frame id.
// Returns the unchanged input
type OpSave struct {
	OpBase
	FilePattern string `json:"filePattern"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	return &OpSave{
		OpBase:      OpBase{Type: "save", Active: filenamePattern != ""},
		FilePattern: filenamePattern,
	}
}

func (op *OpSave) Apply(f *frame.Frame, c *Context) (result *frame.Frame, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	fileName := op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName = fmt.Sprintf(op.FilePattern, f.ID)
	}
	fnLower := strings.ToLower(fileName)
	min, max := frame.MinMax(f.View())

	if strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff") {
		c.Logf("%d: Writing %s pixel 16-bit TIFF to %s\n", f.ID, f.DimensionsToString(), fileName)
		err = f.WriteTIFF16ToFile(fileName, min, max)
	} else if strings.HasSuffix(fnLower, ".jpeg") || strings.HasSuffix(fnLower, ".jpg") {
		c.Logf("%d: Writing %s pixel mono JPEG to %s ...\n", f.ID, f.DimensionsToString(), fileName)
		err = f.WriteMonoJPGToFile(fileName, min, max, 1, 95)
	} else {
		err = errors.New("unknown suffix")
	}
	if err != nil {
		return nil, fmt.Errorf("%d: error writing to file %s: %w", f.ID, fileName, err)
	}
	return f, nil
}

// Applies a sequence of operators to a frame
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	err := json.Unmarshal(b, (*alias)(op))
	if err != nil {
		return err
	}

	op.Steps = nil
	for _, raw := range op.StepsRaw {
		var step OpBase
		err = json.Unmarshal(raw, &step)
		if err != nil {
			return err
		}

		var i Operator
		if factory := GetOperatorFactory(step.Type); factory != nil {
			i = factory()
		} else {
			return fmt.Errorf("unknown operator type '%s' in raw JSON message '%s'", step.Type, string(raw))
		}
		err = json.Unmarshal(raw, i)
		if err != nil {
			return err
		}
		op.Steps = append(op.Steps, i)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
	if len(op.Steps) > 0 {
		op.Active = true
	}
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	steps := op.Steps
	if steps == nil {
		steps = []Operator{}
	}
	inner, err = json.Marshal(steps)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

// Applies all active steps in order
func (op *OpSequence) Apply(f *frame.Frame, c *Context) (result *frame.Frame, err error) {
	if !op.Active {
		return f, nil
	}
	for _, step := range op.Steps {
		if !step.IsActive() {
			continue
		}
		if f, err = step.Apply(f, c); err != nil {
			return nil, err
		}
	}
	return f, nil
}
