package flow

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ArgumentError is raised for malformed projections and step declarations
type ArgumentError struct {
	Reason string
}

func (a *ArgumentError) Error() string { return a.Reason }

var (
	// ErrNoFunction is returned when Use is not given a function
	ErrNoFunction = &ArgumentError{Reason: "a function must be provided"}
	// ErrMixedArguments is returned when a projection mixes positional and keyword parameters
	ErrMixedArguments = &ArgumentError{Reason: "cannot mix positional and keyword arguments"}
	// ErrRestArguments is returned for variadic functions and catch-all parameters
	ErrRestArguments = &ArgumentError{Reason: "rest arguments are not supported"}
)

const stateTag = "state"

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Use invokes fn with values projected out of the state and normalizes what it returns
// into a (value, error) pair.
//
// Positional projection lists the keys, fn gets the values in that order:
//
//	st.Use(func(name string, age int) string { ... }, "name", "age")
//
// Keyword projection uses a single struct parameter, its fields are decoded from the keys
// named by their `state` tag (or the field name):
//
//	st.Use(func(in struct{ Name string `state:"name"` }) string { ... })
//
// Keys may also be declared keyword style with a trailing colon, fn then takes a single
// map[string]any holding exactly those keys:
//
//	st.Use(func(in map[string]any) any { ... }, "name:", "age:")
//
// Variadic functions, rest names ("*args", "**opts") and catch-all struct fields
// (`state:",remain"`) are rejected, as is mixing positional and keyword parameters.
// A function without parameters is called without arguments.
func (s *State) Use(fn any, names ...string) (any, error) {
	p, err := projectionFor(fn, names)
	if err != nil {
		return nil, err
	}
	return p.call(s)
}

type projectionMode uint8

const (
	projectNone projectionMode = iota
	projectPositional
	projectKeywordStruct
	projectKeywordMap
)

type projection struct {
	fn    reflect.Value
	mode  projectionMode
	names []string
}

func projectionFor(fn any, names []string) (*projection, error) {
	if fn == nil {
		return nil, ErrNoFunction
	}
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || fv.IsNil() {
		return nil, ErrNoFunction
	}
	if ft.IsVariadic() {
		return nil, ErrRestArguments
	}
	if err := checkOutputs(ft); err != nil {
		return nil, err
	}

	var positional, keyword []string
	for _, n := range names {
		switch {
		case strings.HasPrefix(n, "*"):
			return nil, ErrRestArguments
		case strings.HasSuffix(n, ":"):
			keyword = append(keyword, strings.TrimSuffix(n, ":"))
		default:
			positional = append(positional, n)
		}
	}
	if len(positional) > 0 && len(keyword) > 0 {
		return nil, ErrMixedArguments
	}

	p := &projection{fn: fv}
	switch {
	case len(keyword) > 0:
		if ft.NumIn() != 1 || !isStringMap(ft.In(0)) {
			return nil, &ArgumentError{Reason: "keyword names need a single map[string]any parameter"}
		}
		p.mode, p.names = projectKeywordMap, keyword

	case len(positional) > 0:
		if ft.NumIn() != len(positional) {
			return nil, &ArgumentError{Reason: fmt.Sprintf("%d names given for %d parameters", len(positional), ft.NumIn())}
		}
		for i := 0; i < ft.NumIn(); i++ {
			if isKeywordStruct(ft.In(i)) {
				return nil, ErrMixedArguments
			}
		}
		p.mode, p.names = projectPositional, positional

	case ft.NumIn() == 0:
		p.mode = projectNone

	default:
		var kw int
		for i := 0; i < ft.NumIn(); i++ {
			in := ft.In(i)
			if isStringMap(in) {
				return nil, ErrRestArguments
			}
			if isKeywordStruct(in) {
				kw++
			}
		}
		switch {
		case kw == 1 && ft.NumIn() == 1:
			if hasRemainField(ft.In(0)) {
				return nil, ErrRestArguments
			}
			p.mode = projectKeywordStruct
		case kw > 0:
			return nil, ErrMixedArguments
		default:
			return nil, &ArgumentError{Reason: "positional parameters need the names of the keys to project"}
		}
	}
	return p, nil
}

func (p *projection) call(s *State) (any, error) {
	ft := p.fn.Type()
	var args []reflect.Value

	switch p.mode {
	case projectPositional:
		args = make([]reflect.Value, len(p.names))
		for i, name := range p.names {
			v, err := coerce(name, s.values[name], ft.In(i))
			if err != nil {
				return nil, err
			}
			args[i] = v
		}

	case projectKeywordMap:
		args = []reflect.Value{reflect.ValueOf(s.Slice(p.names...))}

	case projectKeywordStruct:
		target := reflect.New(ft.In(0))
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName: stateTag,
			Result:  target.Interface(),
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(s.values); err != nil {
			return nil, &ArgumentError{Reason: err.Error()}
		}
		args = []reflect.Value{target.Elem()}
	}

	return normalizeOutputs(p.fn.Call(args))
}

func coerce(name string, value any, to reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(to), nil
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(to):
		return rv, nil
	case isNumber(rv.Kind()) && isNumber(to.Kind()):
		if fitsNumber(rv, to) {
			return rv.Convert(to), nil
		}
		return reflect.Value{}, &ArgumentError{
			Reason: fmt.Sprintf("state key %q holds %v which doesn't fit in %s", name, value, to),
		}
	}
	return reflect.Value{}, &ArgumentError{
		Reason: fmt.Sprintf("state key %q holds %T which can't be used as %s", name, value, to),
	}
}

// fitsNumber is true when converting rv to the type loses nothing
func fitsNumber(rv reflect.Value, to reflect.Type) bool {
	target := reflect.New(to).Elem()
	switch {
	case isInt(rv.Kind()):
		n := rv.Int()
		switch {
		case isInt(to.Kind()):
			return !target.OverflowInt(n)
		case isUint(to.Kind()):
			return n >= 0 && !target.OverflowUint(uint64(n))
		default:
			return !target.OverflowFloat(float64(n)) && int64(float64(n)) == n
		}
	case isUint(rv.Kind()):
		n := rv.Uint()
		switch {
		case isInt(to.Kind()):
			return n <= math.MaxInt64 && !target.OverflowInt(int64(n))
		case isUint(to.Kind()):
			return !target.OverflowUint(n)
		default:
			return uint64(float64(n)) == n
		}
	default:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return !isInt(to.Kind()) && !isUint(to.Kind())
		}
		switch {
		case isInt(to.Kind()):
			return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !target.OverflowInt(int64(f))
		case isUint(to.Kind()):
			return f == math.Trunc(f) && f >= 0 && f < math.MaxUint64 && !target.OverflowUint(uint64(f))
		default:
			return !target.OverflowFloat(f)
		}
	}
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func checkOutputs(ft reflect.Type) error {
	switch ft.NumOut() {
	case 0, 1:
		return nil
	case 2:
		if ft.Out(1) == errorType {
			return nil
		}
	}
	return &ArgumentError{Reason: "a projected function returns nothing, a value, an error or a value and an error"}
}

func normalizeOutputs(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		err, _ := out[1].Interface().(error)
		return out[0].Interface(), err
	}
}

func isStringMap(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

func isKeywordStruct(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if _, ok := t.Field(i).Tag.Lookup(stateTag); ok {
			return true
		}
	}
	return false
}

func hasRemainField(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get(stateTag)
		for _, opt := range strings.Split(tag, ",")[1:] {
			if opt == "remain" {
				return true
			}
		}
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
