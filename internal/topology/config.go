package topology

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk topology description: areas, their adjacency,
// and the sensors bound to them. It mirrors the YAML layout:
//
//	areas:
//	  living: {name: Living room}
//	  backyard: {name: Backyard, indoors: false, exit_capable: true}
//	adjacency:
//	  living: [kitchen, entrance]
//	sensors:
//	  motion_living: {type: motion, area: living}
//	  magnetic_terrace: {type: magnetic, area: [entrance, backyard]}
type Document struct {
	Areas     map[string]AreaConfig   `yaml:"areas"`
	Adjacency map[string][]string     `yaml:"adjacency"`
	Sensors   map[string]SensorConfig `yaml:"sensors"`
}

// AreaConfig describes one area in the topology document
type AreaConfig struct {
	Name        string `yaml:"name"`
	Indoors     *bool  `yaml:"indoors"` // defaults to true
	ExitCapable bool   `yaml:"exit_capable"`
}

// SensorConfig describes one sensor in the topology document
type SensorConfig struct {
	Type string  `yaml:"type"`
	Area AreaRef `yaml:"area"`
}

// AreaRef accepts either a scalar area id or a list of area ids, so a
// bridging sensor can be written as `area: [entrance, backyard]` while a
// plain sensor stays `area: living`.
type AreaRef []string

// UnmarshalYAML implements yaml.Unmarshaler
func (r *AreaRef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*r = AreaRef{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*r = AreaRef(list)
		return nil
	default:
		return fmt.Errorf("area must be a string or a list of strings")
	}
}

// Parse decodes a topology document from YAML
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and validates a topology document, then builds the graph
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return New(doc)
}

// Validate performs field-level validation of the document. Cross-reference
// checks (undefined areas, sensorless areas) happen in New.
func (d *Document) Validate() error {
	if err := validation.ValidateStruct(d,
		validation.Field(&d.Areas, validation.Required.Error("at least one area is required")),
		validation.Field(&d.Sensors, validation.Required.Error("at least one sensor is required")),
	); err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}

	for id, sensor := range d.Sensors {
		err := validation.ValidateStruct(&sensor,
			validation.Field(&sensor.Type, validation.Required,
				validation.In(string(KindMotion), string(KindMagnetic), string(KindCameraMotion), string(KindCameraPerson)).
					Error("must be one of motion, magnetic, camera_motion, camera_person")),
			validation.Field(&sensor.Area, validation.Required,
				validation.Length(1, 2).Error("must reference one or two areas")),
		)
		if err != nil {
			return fmt.Errorf("invalid sensor %q: %w", id, err)
		}
	}

	return nil
}
