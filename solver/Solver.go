// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON serialized into configuraiton files.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// Solver wraps Gorgonia Solvers so that they can be JSON marshalled and
// unmarshalled.
type Solver struct {
	G.Solver `json:"-"`
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c}
	solver.Solver = solver.Config.Create()

	return &solver, nil
}

// SetStepSize changes the learning rate of the wrapped Gorgonia Solver
// in place. Accumulated solver state, such as Adam's moment estimates,
// is preserved across the change.
func (s *Solver) SetStepSize(stepSize float64) {
	G.WithLearnRate(stepSize)(s.Solver)

	switch c := s.Config.(type) {
	case AdamConfig:
		c.StepSize = stepSize
		s.Config = c
	case *AdamConfig:
		c.StepSize = stepSize
	case VanillaConfig:
		c.StepSize = stepSize
		s.Config = c
	case *VanillaConfig:
		c.StepSize = stepSize
	case RMSPropConfig:
		c.StepSize = stepSize
		s.Config = c
	case *RMSPropConfig:
		c.StepSize = stepSize
	}
}

// StepSize returns the current learning rate of the Solver.
func (s *Solver) StepSize() float64 {
	switch c := s.Config.(type) {
	case AdamConfig:
		return c.StepSize
	case *AdamConfig:
		return c.StepSize
	case VanillaConfig:
		return c.StepSize
	case *VanillaConfig:
		return c.StepSize
	case RMSPropConfig:
		return c.StepSize
	case *RMSPropConfig:
		return c.StepSize
	}
	return 0
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
			string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
		})
	if err != nil {
		return err
	}

	s.Type = typeName
	s.Config = config
	s.Solver = s.Config.Create()

	return nil
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName := m[typeJsonField].(string)
	var value Config
	if ty, found := customTypes[typeName]; found {
		value = reflect.New(ty).Interface().(Config)
	}

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, &value); err != nil {
		return nil, "", err
	}

	return value, Type(typeName), nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool
}
