package domain

import "fmt"

// LayerKind selects how AttributeJoiner aggregates a layer.
type LayerKind string

const (
	LayerThematic   LayerKind = "thematic"
	LayerContinuous LayerKind = "continuous"
	LayerPolygons   LayerKind = "polygons"
)

// LayerConfig is one entry of the ordered layer configuration.
type LayerConfig struct {
	Tag        string            `json:"tag" mapstructure:"tag"`
	Kind       LayerKind         `json:"kind" mapstructure:"kind"`
	Variable   string            `json:"variable,omitempty" mapstructure:"variable"`
	Variables  []string          `json:"variables,omitempty" mapstructure:"variables"`
	VariableIn string            `json:"variable_in,omitempty" mapstructure:"variable_in"`
	Labels     map[string]string `json:"labels,omitempty" mapstructure:"labels"`
}

// Validate checks the fields required by the layer's kind.
func (l LayerConfig) Validate() error {
	if l.Tag == "" {
		return fmt.Errorf("layer has no tag: %w", ErrConfig)
	}
	switch l.Kind {
	case LayerThematic:
		if l.Variable == "" {
			return fmt.Errorf("thematic layer %s: variable is required: %w", l.Tag, ErrConfig)
		}
	case LayerContinuous:
		if len(l.Variables) == 0 {
			return fmt.Errorf("continuous layer %s: variables is required: %w", l.Tag, ErrConfig)
		}
	case LayerPolygons:
		if l.Variable == "" || l.VariableIn == "" {
			return fmt.Errorf("polygon layer %s: variable and variable_in are required: %w", l.Tag, ErrConfig)
		}
	default:
		return fmt.Errorf("layer %s: unknown kind %q: %w", l.Tag, l.Kind, ErrConfig)
	}
	return nil
}

// Tiled reports whether the layer is backed by grid tiles rather than a
// single vector dataset.
func (l LayerConfig) Tiled() bool {
	return l.Kind != LayerPolygons
}

// AttributeSummary is the aggregate of one layer over one event.
type AttributeSummary struct {
	Layer string    `json:"layer"`
	Kind  LayerKind `json:"kind"`

	// Thematic: category -> fraction of covered area, plus the dominant one.
	Weights          map[string]float64 `json:"weights,omitempty"`
	Dominant         string             `json:"dominant,omitempty"`
	DominantFraction float64            `json:"dominant_fraction,omitempty"`

	// Continuous: variable -> area-weighted mean.
	Means map[string]float64 `json:"means,omitempty"`

	// Polygons: region with the largest overlap.
	Region string `json:"region,omitempty"`

	CoveredFraction float64 `json:"covered_fraction"`
	Null            bool    `json:"null"`
}
