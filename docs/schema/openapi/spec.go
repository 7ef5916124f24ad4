// Package openapi embeds the OpenAPI document describing the visits HTTP API.
package openapi

import _ "embed"

// VisitsSpec is the OpenAPI 3 document for the visits API.
//
//go:embed visits.yaml
var VisitsSpec []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), VisitsSpec...)
}
