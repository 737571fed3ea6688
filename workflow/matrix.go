package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type (
	// Matrix is an ordered set of parameter axes whose Cartesian
	// product defines the variants of a job template. Axis order is
	// the document order of the workflow file, which fixes the
	// enumeration order of expanded instances.
	Matrix struct {
		Axes    []Axis
		Exclude []map[string]string
	}

	Axis struct {
		Name   string
		Values []string
	}
)

// Custom unmarshaller for Matrix: a mapping of axis name to value list,
// preserving document order, with an optional "exclude" entry holding
// exact-match tuples to drop from the product.
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping, got %s", value.Tag)
	}

	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i]
		val := value.Content[i+1]

		if key.Value == "exclude" {
			var excludes []map[string]string
			if err := val.Decode(&excludes); err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
			m.Exclude = excludes
			continue
		}

		if val.Kind != yaml.SequenceNode {
			return fmt.Errorf("matrix axis %q must be a list, got %s", key.Value, val.Tag)
		}

		axis := Axis{Name: key.Value}
		for _, item := range val.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("matrix axis %q: values must be scalars", key.Value)
			}
			axis.Values = append(axis.Values, item.Value)
		}

		m.Axes = append(m.Axes, axis)
	}

	return nil
}

// Value returns the named axis's values, or nil if the axis does not
// exist.
func (m *Matrix) Value(axis string) []string {
	for _, a := range m.Axes {
		if a.Name == axis {
			return a.Values
		}
	}
	return nil
}
