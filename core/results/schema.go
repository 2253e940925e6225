package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	validation "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	reflector = jsonschema.Reflector{
		DoNotReference: true,
		// Unknown keys are ignored rather than rejected, matching what the
		// server is allowed to add to either payload over time.
		AllowAdditionalProperties: true,
	}

	tableValidator = mustCompile("table.json", TableSchema())
	chartValidator = mustCompile("chart.json", ChartSchema())

	reasons = message.NewPrinter(language.English)
)

// TableSchema returns the JSON schema table payloads are validated against.
// Every call reflects a fresh schema, callers are free to modify it.
func TableSchema() *jsonschema.Schema {
	return reflector.ReflectFromType(reflect.TypeOf(Table{}))
}

// ChartSchema returns the JSON schema chart payloads are validated against.
// Every call reflects a fresh schema, callers are free to modify it.
func ChartSchema() *jsonschema.Schema {
	return reflector.ReflectFromType(reflect.TypeOf(Chart{}))
}

// mustCompile panics since the schemas are reflected from our own types and
// can only fail to compile through a programming error.
func mustCompile(location string, schema *jsonschema.Schema) *validation.Schema {
	if schema.ID != jsonschema.EmptyID {
		location = schema.ID.String()
	}

	encoded, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("encoding schema %s: %v", location, err))
	}
	document, err := validation.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		panic(fmt.Sprintf("decoding schema %s: %v", location, err))
	}

	compiler := validation.NewCompiler()
	if err := compiler.AddResource(location, document); err != nil {
		panic(fmt.Sprintf("adding schema %s: %v", location, err))
	}
	return compiler.MustCompile(location)
}

// conform validates a raw payload against a compiled schema. Numbers are
// compared exactly, so 3.0 is an integer while 1.5 is not.
func conform(errKind error, schema *validation.Schema, raw json.RawMessage) error {
	document, err := validation.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Kind: errKind, Reason: "malformed JSON: " + err.Error()}
	}

	err = schema.Validate(document)
	if err == nil {
		return nil
	}
	var schemaErr *validation.ValidationError
	if !errors.As(err, &schemaErr) {
		return &ValidationError{Kind: errKind, Reason: err.Error()}
	}
	return toValidationError(errKind, schemaErr)
}

// toValidationError reports the first leaf cause, which is the most specific
// location the validator found.
func toValidationError(errKind error, err *validation.ValidationError) *ValidationError {
	leaf := err
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	location := leaf.InstanceLocation
	reason := leaf.ErrorKind.LocalizedString(reasons)
	if required, ok := leaf.ErrorKind.(*kind.Required); ok && len(required.Missing) > 0 {
		location = append(location[:len(location):len(location)], required.Missing[0])
		reason = "required field is missing"
	}
	return &ValidationError{Kind: errKind, Path: instancePath(location), Reason: reason}
}

// instancePath joins JSON pointer tokens as "rows[2].month". Numeric tokens
// are written as indexes; the only objects that can hold numeric keys are row
// and data point maps, which the schemas leave unconstrained.
func instancePath(tokens []string) string {
	var b strings.Builder
	for _, token := range tokens {
		if isIndex(token) {
			b.WriteString("[" + token + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteString(".")
		}
		b.WriteString(token)
	}
	return b.String()
}

func isIndex(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
