package gen

import (
	"math/rand"

	jsoniter "github.com/json-iterator/go"
)

// GenerateOptions holds the knobs of the pseudo-random generators.
type GenerateOptions struct {
	// Seed feeds the random engine. Equal seeds produce equal documents.
	Seed int64
}

// The two serialisation configurations used for generated documents.
var (
	compactAPI = jsoniter.Config{EscapeHTML: false}.Froze()
	prettyAPI  = jsoniter.Config{EscapeHTML: false, IndentionStep: 2}.Froze()
)

// DocumentGenerator emits one pseudo-random JSON document per call,
// conforming to a schema.
//
// A generator owns its random engine and is not safe for concurrent use;
// every producer worker builds its own with a distinct seed.
type DocumentGenerator struct {
	root Value
	ctx  Context
}

// NewDocumentGenerator compiles the schema and seeds the random engine.
func NewDocumentGenerator(schema *Schema, opts GenerateOptions) (*DocumentGenerator, error) {
	root, err := schema.build()
	if err != nil {
		return nil, err
	}
	return &DocumentGenerator{
		root: root,
		ctx:  Context{Rand: rand.New(rand.NewSource(opts.Seed))},
	}, nil
}

// WriteTo writes the next document to the stream. The stream's configuration
// decides compact versus indented output.
func (g *DocumentGenerator) WriteTo(s *jsoniter.Stream) {
	g.root.Write(&g.ctx, s)
}

// Render returns the next document as a standalone byte slice.
//
// Used by the file mode; the streaming producers serialise straight into
// their batch buffers via WriteTo instead.
func (g *DocumentGenerator) Render(pretty bool) ([]byte, error) {
	api := compactAPI
	if pretty {
		api = prettyAPI
	}
	s := api.BorrowStream(nil)
	defer api.ReturnStream(s)
	g.WriteTo(s)
	if s.Error != nil {
		return nil, s.Error
	}
	out := make([]byte, len(s.Buffer()))
	copy(out, s.Buffer())
	return out, nil
}

// StreamAPI returns the frozen jsoniter configuration matching the pretty
// flag, for callers that serialise documents into their own buffers.
func StreamAPI(pretty bool) jsoniter.API {
	if pretty {
		return prettyAPI
	}
	return compactAPI
}
