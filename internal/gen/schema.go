package gen

import (
	"math"
	"os"

	yaml "gopkg.in/yaml.v2"

	"jsongen/common"
)

// Field describes one member of a generated document.
//
// The zero values of the optional knobs select sensible defaults: integers
// span the full type range, string lengths follow a normal distribution with
// mean 16 and standard deviation 8, clipped to [0, 256].
type Field struct {
	// Name of the member.
	Name string `yaml:"name"`
	// Type of the generated value: bool, int, uint, float, string, date,
	// null, array or object. int64/i64 and uint64/u64 are accepted aliases.
	Type string `yaml:"type"`

	// Min and Max bound integer values (inclusive) and float values
	// (drawn from [Min, Max)).
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Mean and Stddev shape string lengths.
	Mean   *float64 `yaml:"mean,omitempty"`
	Stddev *float64 `yaml:"stddev,omitempty"`
	// MinLength and MaxLength clip string lengths.
	MinLength *int `yaml:"minLength,omitempty"`
	MaxLength *int `yaml:"maxLength,omitempty"`

	// Length is the fixed element count for array fields.
	Length int `yaml:"length,omitempty"`
	// Element describes the element of an array field.
	Element *Field `yaml:"element,omitempty"`
	// Fields describe the members of an object field, in order.
	Fields []Field `yaml:"fields,omitempty"`

	// Nullable replaces the value with JSON null at random. Supported for
	// bool, int, float and string fields.
	Nullable bool `yaml:"nullable,omitempty"`
	// NullChance is the probability of a null for nullable fields.
	// Defaults to 0.25.
	NullChance *float64 `yaml:"nullChance,omitempty"`
}

// Schema describes the shape of generated documents. The root is always an
// object holding Fields in order.
type Schema struct {
	Fields []Field `yaml:"fields"`
}

// ParseSchema parses a YAML schema description.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, common.Wrap(common.ErrGeneric, err)
	}
	if len(s.Fields) == 0 {
		return nil, common.Errorf(common.ErrGeneric, "schema has no fields")
	}
	return &s, nil
}

// LoadSchema reads and parses a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.Wrap(common.ErrIO, err)
	}
	return ParseSchema(data)
}

const defaultNullChance = 0.25

// build compiles the schema into a value generator tree.
func (s *Schema) build() (Value, error) {
	root := Field{Type: "object", Fields: s.Fields}
	return buildField(root)
}

func buildField(f Field) (Value, error) {
	chance := defaultNullChance
	if f.NullChance != nil {
		chance = *f.NullChance
	}

	switch f.Type {
	case "null":
		return nullValue{}, nil

	case "bool":
		if f.Nullable {
			return nullableBool{chance: chance}, nil
		}
		return boolValue{}, nil

	case "int", "int64", "i64":
		v := intValue{min: math.MinInt64, max: math.MaxInt64}
		if f.Min != nil {
			v.min = int64(*f.Min)
		}
		if f.Max != nil {
			v.max = int64(*f.Max)
		}
		if v.min > v.max {
			return nil, common.Errorf(common.ErrGeneric, "field %q: min %d exceeds max %d", f.Name, v.min, v.max)
		}
		if f.Nullable {
			return nullableInt{inner: v, chance: chance}, nil
		}
		return v, nil

	case "uint", "uint64", "u64":
		v := uintValue{min: 0, max: math.MaxUint64}
		if f.Min != nil {
			v.min = uint64(*f.Min)
		}
		if f.Max != nil {
			v.max = uint64(*f.Max)
		}
		if v.min > v.max {
			return nil, common.Errorf(common.ErrGeneric, "field %q: min %d exceeds max %d", f.Name, v.min, v.max)
		}
		return v, nil

	case "float", "float64", "f64":
		v := floatValue{min: 0, max: 1}
		if f.Min != nil {
			v.min = *f.Min
		}
		if f.Max != nil {
			v.max = *f.Max
		}
		if v.min > v.max {
			return nil, common.Errorf(common.ErrGeneric, "field %q: min %g exceeds max %g", f.Name, v.min, v.max)
		}
		if f.Nullable {
			return nullableFloat{inner: v, chance: chance}, nil
		}
		return v, nil

	case "string":
		v := stringValue{mean: 16, stddev: 8, minLen: 0, maxLen: 256}
		if f.Mean != nil {
			v.mean = *f.Mean
		}
		if f.Stddev != nil {
			v.stddev = *f.Stddev
		}
		if f.MinLength != nil {
			v.minLen = *f.MinLength
		}
		if f.MaxLength != nil {
			v.maxLen = *f.MaxLength
		}
		if f.Nullable {
			return nullableString{inner: v, chance: chance}, nil
		}
		return v, nil

	case "date":
		return dateValue{}, nil

	case "array":
		if f.Element == nil {
			return nil, common.Errorf(common.ErrGeneric, "array field %q has no element", f.Name)
		}
		if f.Length < 1 {
			return nil, common.Errorf(common.ErrGeneric, "array field %q needs length >= 1", f.Name)
		}
		elem, err := buildField(*f.Element)
		if err != nil {
			return nil, err
		}
		return arrayValue{length: f.Length, elem: elem}, nil

	case "object":
		if len(f.Fields) == 0 {
			return nil, common.Errorf(common.ErrGeneric, "object field %q has no members", f.Name)
		}
		names := make([]string, len(f.Fields))
		values := make([]Value, len(f.Fields))
		for i, member := range f.Fields {
			if member.Name == "" {
				return nil, common.Errorf(common.ErrGeneric, "object member %d has no name", i)
			}
			v, err := buildField(member)
			if err != nil {
				return nil, err
			}
			names[i] = member.Name
			values[i] = v
		}
		return objectValue{names: names, values: values}, nil

	default:
		return nil, common.Errorf(common.ErrGeneric, "unknown field type %q", f.Type)
	}
}
