package option

import (
	"strconv"

	"github.com/kballard/go-shellquote"
	"github.com/zclconf/go-cty/cty"
)

// Values is a read-only view of option values handed to derivations and
// to stage constructors. Accessors panic on names that are not present or
// have the wrong type; both are programming errors in the caller.
type Values map[string]cty.Value

// String returns a string option.
func (v Values) String(name string) string {
	return v.must(name).AsString()
}

// Bool returns a boolean option.
func (v Values) Bool(name string) bool {
	return v.must(name).True()
}

// Float returns a number option as float64.
func (v Values) Float(name string) float64 {
	f, _ := v.must(name).AsBigFloat().Float64()
	return f
}

// Int returns a number option truncated to int.
func (v Values) Int(name string) int {
	i, _ := v.must(name).AsBigFloat().Int64()
	return int(i)
}

// Strings returns a list-of-strings option.
func (v Values) Strings(name string) []string {
	val := v.must(name)
	out := make([]string, 0, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		_, e := it.Element()
		out = append(out, e.AsString())
	}
	return out
}

// Args splits an Args option into arguments. Values were checked when
// set, so a split error cannot occur here.
func (v Values) Args(name string) []string {
	args, _ := shellquote.Split(v.String(name))
	return args
}

func (v Values) must(name string) cty.Value {
	val, ok := v[name]
	if !ok {
		panic("option: unknown option " + name)
	}
	return val
}

// FormatFloat renders f the way tool command lines expect: shortest
// representation, no exponent for ordinary voxel sizes.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StringsVal converts ss to a cty list of strings, empty when ss is.
func StringsVal(ss []string) cty.Value {
	if len(ss) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(ss))
	for i, s := range ss {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
