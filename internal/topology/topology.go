package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the closed set of sensor kinds the engine understands. The kinds
// differ only in how a reported state word maps to the boolean active signal;
// resolution logic is otherwise uniform.
type Kind string

const (
	KindMotion       Kind = "motion"
	KindMagnetic     Kind = "magnetic"
	KindCameraMotion Kind = "camera_motion"
	KindCameraPerson Kind = "camera_person"
)

// ParseKind converts a configuration string into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMotion, KindMagnetic, KindCameraMotion, KindCameraPerson:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown sensor kind: %q", s)
	}
}

// ActiveFromState maps a kind-specific state word to the active signal.
// Motion and camera sensors report detected/clear, magnetic contacts report
// open/closed.
func (k Kind) ActiveFromState(state string) bool {
	switch strings.ToLower(state) {
	case "detected", "on", "open", "active", "true":
		return true
	default:
		return false
	}
}

// Area is a monitored physical region. Exit-capable areas border unmonitored
// space, so occupancy there clears without an outbound transition event.
type Area struct {
	ID          string
	Name        string
	Indoors     bool
	ExitCapable bool
}

// Sensor is a binary sensor bound to one area, or to two adjacent areas when
// it spans their shared boundary (a bridging sensor).
type Sensor struct {
	ID    string
	Kind  Kind
	Areas []string
}

// Bridging reports whether the sensor spans two areas
func (s Sensor) Bridging() bool {
	return len(s.Areas) == 2
}

// Topology is the static area/adjacency/sensor model. Built once from a
// validated document; read-only thereafter.
type Topology struct {
	areas     map[string]Area
	sensors   map[string]Sensor
	neighbors map[string]map[string]bool
}

// ValidationError aggregates the cross-reference problems found while
// building a topology.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid topology: %s", strings.Join(e.Problems, "; "))
}

// New builds a Topology from a parsed document. It refuses to operate on an
// invalid graph: adjacency entries referencing undefined areas, areas without
// any bound sensor, sensors referencing undefined areas, and bridging sensors
// whose areas are not adjacent are all construction failures.
func New(doc *Document) (*Topology, error) {
	t := &Topology{
		areas:     make(map[string]Area, len(doc.Areas)),
		sensors:   make(map[string]Sensor, len(doc.Sensors)),
		neighbors: make(map[string]map[string]bool, len(doc.Areas)),
	}

	var problems []string

	for id, cfg := range doc.Areas {
		indoors := true
		if cfg.Indoors != nil {
			indoors = *cfg.Indoors
		}
		name := cfg.Name
		if name == "" {
			name = id
		}
		t.areas[id] = Area{
			ID:          id,
			Name:        name,
			Indoors:     indoors,
			ExitCapable: cfg.ExitCapable,
		}
		t.neighbors[id] = make(map[string]bool)
	}

	// Adjacency is stored undirected: an edge listed in either direction
	// makes both areas neighbors.
	for from, list := range doc.Adjacency {
		if _, ok := t.areas[from]; !ok {
			problems = append(problems, fmt.Sprintf("adjacency references undefined area %q", from))
			continue
		}
		for _, to := range list {
			if _, ok := t.areas[to]; !ok {
				problems = append(problems, fmt.Sprintf("area %q lists undefined adjacent area %q", from, to))
				continue
			}
			if to == from {
				problems = append(problems, fmt.Sprintf("area %q is adjacent to itself", from))
				continue
			}
			t.neighbors[from][to] = true
			t.neighbors[to][from] = true
		}
	}

	coveredAreas := make(map[string]bool, len(doc.Areas))
	for id, cfg := range doc.Sensors {
		kind, err := ParseKind(cfg.Type)
		if err != nil {
			problems = append(problems, fmt.Sprintf("sensor %q: %v", id, err))
			continue
		}
		areas := make([]string, 0, len(cfg.Area))
		valid := true
		for _, areaID := range cfg.Area {
			if _, ok := t.areas[areaID]; !ok {
				problems = append(problems, fmt.Sprintf("sensor %q references undefined area %q", id, areaID))
				valid = false
				continue
			}
			areas = append(areas, areaID)
			coveredAreas[areaID] = true
		}
		if !valid {
			continue
		}
		if len(areas) == 2 && !t.neighbors[areas[0]][areas[1]] {
			problems = append(problems, fmt.Sprintf("sensor %q bridges non-adjacent areas %q and %q", id, areas[0], areas[1]))
			continue
		}
		t.sensors[id] = Sensor{ID: id, Kind: kind, Areas: areas}
	}

	for id := range t.areas {
		if !coveredAreas[id] {
			problems = append(problems, fmt.Sprintf("area %q has no bound sensor", id))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ValidationError{Problems: problems}
	}

	return t, nil
}

// Area returns the area with the given id
func (t *Topology) Area(id string) (Area, bool) {
	a, ok := t.areas[id]
	return a, ok
}

// Sensor returns the sensor with the given id
func (t *Topology) Sensor(id string) (Sensor, bool) {
	s, ok := t.sensors[id]
	return s, ok
}

// Areas returns all areas sorted by id
func (t *Topology) Areas() []Area {
	areas := make([]Area, 0, len(t.areas))
	for _, a := range t.areas {
		areas = append(areas, a)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i].ID < areas[j].ID })
	return areas
}

// Sensors returns all sensors sorted by id
func (t *Topology) Sensors() []Sensor {
	sensors := make([]Sensor, 0, len(t.sensors))
	for _, s := range t.sensors {
		sensors = append(sensors, s)
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].ID < sensors[j].ID })
	return sensors
}

// Neighbors returns the ids of areas adjacent to the given area, sorted
func (t *Topology) Neighbors(id string) []string {
	set, ok := t.neighbors[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsolatedAreas returns the ids of areas with no adjacency edges, sorted.
// Not a construction failure: a single-area setup is legal, but an isolated
// area in a larger graph usually means a missing adjacency entry, so callers
// log these at startup.
func (t *Topology) IsolatedAreas() []string {
	var out []string
	for id, set := range t.neighbors {
		if len(set) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// IsAdjacent reports whether two areas share an edge
func (t *Topology) IsAdjacent(a, b string) bool {
	return t.neighbors[a][b]
}

// IsExitCapable reports whether an area borders unmonitored space
func (t *Topology) IsExitCapable(id string) bool {
	return t.areas[id].ExitCapable
}
