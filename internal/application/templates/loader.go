package templates

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aescanero/fulfillment/pkg/domain"
	"gopkg.in/yaml.v3"
)

// document is the on-disk layout of a template file
type document struct {
	Templates []domain.WorkflowTemplate `yaml:"templates"`
}

// Load decodes templates from YAML. Durations are written as Go duration
// strings ("90s", "15m").
func Load(r io.Reader) ([]domain.WorkflowTemplate, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to decode templates: %w", domain.ErrInvalidTemplate, err)
	}
	return doc.Templates, nil
}

// LoadFile decodes templates from the YAML file at path
func LoadFile(path string) ([]domain.WorkflowTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// RegisterAll registers every template with the builder, stopping at the
// first failure
func RegisterAll(b *Builder, templates []domain.WorkflowTemplate) error {
	for _, t := range templates {
		if err := b.Register(t); err != nil {
			return err
		}
	}
	return nil
}
