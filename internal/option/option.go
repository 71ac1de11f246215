package option

import (
	"fmt"
	"math/big"
	"os"
	"slices"

	"github.com/kballard/go-shellquote"
	"github.com/zclconf/go-cty/cty"
)

// Option declares one configurable value and its domain.
type Option struct {
	Name string
	// Type is the cty type values are converted to before validation.
	Type    cty.Type
	Default cty.Value
	// Enum restricts a string option to a fixed set. Enum options act as
	// discriminants for branch selection.
	Enum []string
	// Range restricts a number option.
	Range *Range
	// Integer requires a number option to hold a whole number.
	Integer bool
	// MustExist requires a non-empty string option to name an existing path.
	MustExist bool
	// Check, when set, runs after the domain checks above.
	Check       func(cty.Value) error
	Description string
}

// Range is a closed numeric interval, optionally open at Min.
type Range struct {
	Min          float64
	Max          float64
	MinExclusive bool
}

// String declares a free-form string option.
func String(name, def, desc string) Option {
	return Option{Name: name, Type: cty.String, Default: cty.StringVal(def), Description: desc}
}

// Enum declares a discriminant option. The first value is the default.
func Enum(name, desc string, values ...string) Option {
	return Option{Name: name, Type: cty.String, Default: cty.StringVal(values[0]), Enum: values, Description: desc}
}

// Bool declares a boolean option.
func Bool(name string, def bool, desc string) Option {
	return Option{Name: name, Type: cty.Bool, Default: cty.BoolVal(def), Description: desc}
}

// Number declares a numeric option bounded by r. A nil r leaves it unbounded.
func Number(name string, def float64, r *Range, desc string) Option {
	return Option{Name: name, Type: cty.Number, Default: cty.NumberFloatVal(def), Range: r, Description: desc}
}

// Int declares a whole-number option bounded by r.
func Int(name string, def int, r *Range, desc string) Option {
	return Option{Name: name, Type: cty.Number, Default: cty.NumberIntVal(int64(def)), Range: r, Integer: true, Description: desc}
}

// Path declares a file or directory option. Empty means unset.
func Path(name string, mustExist bool, desc string) Option {
	return Option{Name: name, Type: cty.String, Default: cty.StringVal(""), MustExist: mustExist, Description: desc}
}

// StringList declares a list-of-strings option.
func StringList(name, desc string) Option {
	return Option{Name: name, Type: cty.List(cty.String), Default: cty.ListValEmpty(cty.String), Description: desc}
}

// Args declares a free-form string of extra command-line arguments. The
// string must split cleanly under shell quoting rules.
func Args(name, desc string) Option {
	return Option{Name: name, Type: cty.String, Default: cty.StringVal(""), Check: checkArgs, Description: desc}
}

func checkArgs(v cty.Value) error {
	if _, err := shellquote.Split(v.AsString()); err != nil {
		return err
	}
	return nil
}

// validate checks v against the option's domain. v has already been
// converted to o.Type.
func (o Option) validate(v cty.Value) error {
	if v.IsNull() || !v.IsKnown() {
		return fmt.Errorf("%w: %q must have a known, non-null value", ErrInvalidValue, o.Name)
	}

	switch {
	case len(o.Enum) > 0:
		s := v.AsString()
		if !slices.Contains(o.Enum, s) {
			return fmt.Errorf("%w: %q must be one of %v, got %q", ErrInvalidValue, o.Name, o.Enum, s)
		}
	case o.Type.Equals(cty.Number):
		bf := v.AsBigFloat()
		if o.Integer && !bf.IsInt() {
			return fmt.Errorf("%w: %q must be a whole number, got %s", ErrInvalidValue, o.Name, bf.Text('g', -1))
		}
		if o.Range != nil && !o.Range.contains(bf) {
			return fmt.Errorf("%w: %q must be within %s, got %s", ErrInvalidValue, o.Name, o.Range, bf.Text('g', -1))
		}
	case o.MustExist:
		if p := v.AsString(); p != "" {
			if _, err := os.Stat(p); err != nil {
				return fmt.Errorf("%w: %q must name an existing path: %w", ErrInvalidValue, o.Name, err)
			}
		}
	}
	if o.Check != nil {
		if err := o.Check(v); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidValue, o.Name, err)
		}
	}
	return nil
}

func (r *Range) contains(bf *big.Float) bool {
	f, _ := bf.Float64()
	if r.MinExclusive {
		if f <= r.Min {
			return false
		}
	} else if f < r.Min {
		return false
	}
	return f <= r.Max
}

func (r *Range) String() string {
	open := "["
	if r.MinExclusive {
		open = "("
	}
	return fmt.Sprintf("%s%g, %g]", open, r.Min, r.Max)
}
