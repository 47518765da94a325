package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	pkgconfig "github.com/goran-ethernal/ChainPipeline/pkg/config"
)

// Schema returns the JSON Schema describing the configuration file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}

	s := r.Reflect(&pkgconfig.Config{})
	s.Title = "ChainPipeline configuration"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config schema: %w", err)
	}

	return data, nil
}
