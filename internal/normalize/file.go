package normalize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

// SchemaFile is the on-disk form of a set of incoming models. JSON documents
// parse too, since JSON is a subset of YAML. A document without a top-level
// models key is read as a bare map of model name to schema.
type SchemaFile struct {
	Models map[string]types.IncomingSchema `yaml:"models"`
}

// ParseSchema decodes a schema document.
func ParseSchema(data []byte) (map[string]types.IncomingSchema, error) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}

	var models map[string]types.IncomingSchema
	if _, wrapped := top["models"]; wrapped {
		var f SchemaFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing schema: %w", err)
		}
		models = f.Models
	} else if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: schema declares no models", types.ErrInvalidDefinition)
	}
	return models, nil
}

// LoadSchemaFile reads and decodes the schema document at path.
func LoadSchemaFile(path string) (map[string]types.IncomingSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	return ParseSchema(data)
}
