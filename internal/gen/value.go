// Package gen produces pseudo-random JSON documents from a schema
// description. Generation is deterministic: two generators built from the
// same schema and seed emit identical byte streams.
package gen

import (
	"math/rand"
	"time"

	"github.com/guregu/null/v5"
	jsoniter "github.com/json-iterator/go"
)

// Context carries the state shared by all value generators of one document
// generator: the seeded random engine.
type Context struct {
	// Rand is the random engine used by all child generators.
	Rand *rand.Rand
}

// Value is a generator for one JSON value. Implementations write exactly one
// value to the stream per call.
//
// Implementations must draw all randomness from ctx.Rand so that document
// generation stays deterministic for a given seed.
type Value interface {
	Write(ctx *Context, s *jsoniter.Stream)
}

// nullValue always writes null.
type nullValue struct{}

func (nullValue) Write(_ *Context, s *jsoniter.Stream) {
	s.WriteNil()
}

// boolValue writes true or false with equal probability.
type boolValue struct{}

func (boolValue) Write(ctx *Context, s *jsoniter.Stream) {
	s.WriteBool(ctx.Rand.Intn(2) == 1)
}

// intValue writes a uniformly distributed integer in [min, max].
type intValue struct {
	min, max int64
}

func (v intValue) Write(ctx *Context, s *jsoniter.Stream) {
	s.WriteInt64(v.draw(ctx))
}

func (v intValue) draw(ctx *Context) int64 {
	span := uint64(v.max-v.min) + 1
	if span == 0 {
		// Full int64 range.
		return int64(ctx.Rand.Uint64())
	}
	return v.min + int64(ctx.Rand.Uint64()%span)
}

// uintValue writes a uniformly distributed unsigned integer in [min, max].
type uintValue struct {
	min, max uint64
}

func (v uintValue) Write(ctx *Context, s *jsoniter.Stream) {
	span := v.max - v.min + 1
	if span == 0 {
		s.WriteUint64(ctx.Rand.Uint64())
		return
	}
	s.WriteUint64(v.min + ctx.Rand.Uint64()%span)
}

// floatValue writes a uniformly distributed float in [min, max).
type floatValue struct {
	min, max float64
}

func (v floatValue) Write(ctx *Context, s *jsoniter.Stream) {
	s.WriteFloat64(v.min + ctx.Rand.Float64()*(v.max-v.min))
}

// stringValue writes a random lowercase string. Lengths follow a normal
// distribution clipped to [minLen, maxLen].
type stringValue struct {
	mean, stddev   float64
	minLen, maxLen int
}

func (v stringValue) Write(ctx *Context, s *jsoniter.Stream) {
	s.WriteString(v.draw(ctx))
}

func (v stringValue) draw(ctx *Context) string {
	n := int(ctx.Rand.NormFloat64()*v.stddev + v.mean)
	if n < v.minLen {
		n = v.minLen
	}
	if n > v.maxLen {
		n = v.maxLen
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + ctx.Rand.Intn(26))
	}
	return string(b)
}

// dateValue writes an ISO 8601-like date and time string.
type dateValue struct{}

func (dateValue) Write(ctx *Context, s *jsoniter.Stream) {
	r := ctx.Rand
	t := time.Date(
		1970+r.Intn(60),          // year
		time.Month(1+r.Intn(12)), // month
		1+r.Intn(28),             // day
		r.Intn(24),               // hour
		r.Intn(60),               // minute
		r.Intn(60),               // second
		0, time.UTC,
	)
	s.WriteString(t.Format("2006-01-02T15:04:05Z"))
}

// arrayValue writes a fixed-length array of elements from one generator.
type arrayValue struct {
	length int
	elem   Value
}

func (v arrayValue) Write(ctx *Context, s *jsoniter.Stream) {
	s.WriteArrayStart()
	for i := 0; i < v.length; i++ {
		if i > 0 {
			s.WriteMore()
		}
		v.elem.Write(ctx, s)
	}
	s.WriteArrayEnd()
}

// objectValue writes an object with a fixed member order. Ordered members
// keep the byte stream deterministic, unlike map-backed marshalling.
type objectValue struct {
	names  []string
	values []Value
}

func (v objectValue) Write(ctx *Context, s *jsoniter.Stream) {
	s.WriteObjectStart()
	for i, name := range v.names {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteObjectField(name)
		v.values[i].Write(ctx, s)
	}
	s.WriteObjectEnd()
}

// nullableInt writes either an integer or null, via null.Int.
type nullableInt struct {
	inner  intValue
	chance float64
}

func (v nullableInt) Write(ctx *Context, s *jsoniter.Stream) {
	var n null.Int
	if ctx.Rand.Float64() >= v.chance {
		n = null.IntFrom(v.inner.draw(ctx))
	}
	s.WriteVal(n)
}

// nullableString writes either a string or null, via null.String.
type nullableString struct {
	inner  stringValue
	chance float64
}

func (v nullableString) Write(ctx *Context, s *jsoniter.Stream) {
	var n null.String
	if ctx.Rand.Float64() >= v.chance {
		n = null.StringFrom(v.inner.draw(ctx))
	}
	s.WriteVal(n)
}

// nullableBool writes either a boolean or null, via null.Bool.
type nullableBool struct {
	chance float64
}

func (v nullableBool) Write(ctx *Context, s *jsoniter.Stream) {
	var n null.Bool
	if ctx.Rand.Float64() >= v.chance {
		n = null.BoolFrom(ctx.Rand.Intn(2) == 1)
	}
	s.WriteVal(n)
}

// nullableFloat writes either a float or null, via null.Float.
type nullableFloat struct {
	inner  floatValue
	chance float64
}

func (v nullableFloat) Write(ctx *Context, s *jsoniter.Stream) {
	var n null.Float
	if ctx.Rand.Float64() >= v.chance {
		n = null.FloatFrom(v.inner.min + ctx.Rand.Float64()*(v.inner.max-v.inner.min))
	}
	s.WriteVal(n)
}
