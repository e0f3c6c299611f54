package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

type activationType string

const (
	relu     activationType = "relu"
	identity activationType = "identity"
	tanh     activationType = "tanh"
	softsign activationType = "softsign"
	nil_     activationType = "nil"
)

// Activation represents an activation function type
type Activation struct {
	activationType
	f func(x *G.Node) (*G.Node, error)
}

// Fwd performs the forward pass of an Activation
func (a *Activation) Fwd(x *G.Node) (*G.Node, error) {
	if a.IsNil() || a.IsIdentity() {
		return x, nil
	}
	return a.f(x)
}

func (a *Activation) fwd(x *G.Node) (*G.Node, error) {
	return a.Fwd(x)
}

// String implements the Stringer interface
func (a *Activation) String() string {
	return string(a.activationType)
}

// IsIdentity returns whether or not the Activation is the identity
// function.
func (a *Activation) IsIdentity() bool {
	return a.activationType == identity
}

// IsNil returns whether an activation is nil
func (a *Activation) IsNil() bool {
	return a.activationType == nil_
}

// GobEncode implements the GobEncoder interface
func (a *Activation) GobEncode() ([]byte, error) {
	return []byte(a.activationType), nil
}

// GobDecode implements the GobDecoder interface
func (a *Activation) GobDecode(encoded []byte) error {
	decoded := activationType(encoded)
	switch decoded {
	case relu:
		*a = *ReLU()
	case identity:
		*a = *Identity()
	case tanh:
		*a = *TanH()
	case softsign:
		*a = *Softsign()
	case nil_:
		*a = *Nil()
	default:
		return fmt.Errorf("gobdecode: illegal Activation type")
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface so activations
// can appear in configuration files by name.
func (a *Activation) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", a.activationType)), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (a *Activation) UnmarshalJSON(data []byte) error {
	name := string(data)
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	return a.GobDecode([]byte(name))
}

// Nil returns a nil *Activation
func Nil() *Activation {
	return &Activation{
		activationType: nil_,
		f:              nil,
	}
}

// Identity returns an identity *Activation
func Identity() *Activation {
	return &Activation{
		activationType: identity,
		f: func(x *G.Node) (*G.Node, error) {
			return x, nil
		},
	}
}

// ReLU returns a ReLU *Activation
func ReLU() *Activation {
	return &Activation{
		activationType: relu,
		f:              G.Rectify,
	}
}

// TanH returns a tanh *Activation
func TanH() *Activation {
	return &Activation{
		activationType: tanh,
		f:              G.Tanh,
	}
}

// Softsign returns a softsign *Activation, x / (1 + |x|).
// Gorgonia has no softsign op, so it is composed from Abs.
func Softsign() *Activation {
	return &Activation{
		activationType: softsign,
		f: func(x *G.Node) (*G.Node, error) {
			one := G.NewConstant(1.0)
			denom, err := G.Abs(x)
			if err != nil {
				return nil, err
			}
			if denom, err = G.Add(denom, one); err != nil {
				return nil, err
			}
			return G.HadamardDiv(x, denom)
		},
	}
}
