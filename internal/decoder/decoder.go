package decoder

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Strategy names reported in Outcome.Strategy.
const (
	StrategyWhole  = "whole"
	StrategyFenced = "fenced"
	StrategyBraces = "braces"
)

// EnvelopeSchema is the JSON schema every decoded result object must satisfy.
const EnvelopeSchema = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"messages": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \\t]*\\r?\\n?(.*?)```")

// Decoder recovers a structured Outcome from free-form upstream text.
type Decoder struct {
	schema string
	cache  sync.Map // map[string]*gojsonschema.Schema
}

// New returns a decoder validating against schema, or EnvelopeSchema when schema is empty.
func New(schema string) *Decoder {
	if strings.TrimSpace(schema) == "" {
		schema = EnvelopeSchema
	}
	return &Decoder{schema: schema}
}

var defaultDecoder = New("")

// Decode decodes text with the default envelope schema.
func Decode(text string) (Outcome, error) {
	return defaultDecoder.Decode(text)
}

// Decode tries, in order: the whole text, the interior of each fenced block,
// and the substring from the first opening brace to its matching closing
// brace. The first candidate that parses as a JSON object and satisfies the
// schema wins. Brace matching counts braces inside string literals too.
func (d *Decoder) Decode(text string) (Outcome, error) {
	compiled, err := d.compiled()
	if err != nil {
		return Outcome{}, err
	}

	attempts := []struct {
		strategy   string
		candidates func(string) []string
	}{
		{StrategyWhole, wholeCandidates},
		{StrategyFenced, fencedCandidates},
		{StrategyBraces, braceCandidates},
	}
	for _, attempt := range attempts {
		for _, candidate := range attempt.candidates(text) {
			envelope, ok := parseEnvelope(compiled, candidate)
			if !ok {
				continue
			}
			return Outcome{Items: classifyAll(envelope.Messages), Strategy: attempt.strategy}, nil
		}
	}
	return Outcome{}, newResponseFormatError(text)
}

func (d *Decoder) compiled() (*gojsonschema.Schema, error) {
	if val, ok := d.cache.Load(d.schema); ok {
		return val.(*gojsonschema.Schema), nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(d.schema))
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	d.cache.Store(d.schema, schema)
	return schema, nil
}

type envelope struct {
	Messages []map[string]any `json:"messages"`
}

func parseEnvelope(schema *gojsonschema.Schema, candidate string) (envelope, bool) {
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, "{") {
		return envelope{}, false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return envelope{}, false
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil || !result.Valid() {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil {
		return envelope{}, false
	}
	return env, true
}

func wholeCandidates(text string) []string {
	return []string{text}
}

func fencedCandidates(text string) []string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func braceCandidates(text string) []string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []string{text[start : i+1]}
			}
		}
	}
	return nil
}
