package config

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/stagehand.schema.json
var projectSchema []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(projectSchema))
	})
	return compiledSchema, compileErr
}

// validateSchema checks a decoded document against the embedded project
// schema and returns one description per violation.
func validateSchema(doc map[string]interface{}) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validating config schema: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}

// Schema returns the embedded JSON Schema for stagehand.yaml.
func Schema() []byte {
	return append([]byte(nil), projectSchema...)
}

//go:embed sample.yaml
var sampleConfig []byte

// Sample returns a starter stagehand.yaml.
func Sample() []byte {
	return append([]byte(nil), sampleConfig...)
}
