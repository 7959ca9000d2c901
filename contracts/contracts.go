// Package contracts embeds the OpenAPI documents the API validates requests against.
package contracts

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed inactivity.yaml
var InactivityYAML []byte

// Inactivity loads and validates the inactivity admin contract.
func Inactivity() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(InactivityYAML)
	if err != nil {
		return nil, fmt.Errorf("load inactivity contract: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate inactivity contract: %w", err)
	}
	return doc, nil
}
