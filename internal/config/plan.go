package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/playback"
)

// Plan is a YAML description of one hyperlapse run, used by the CLI and the
// render queue.
//
//	name: bay-bridge
//	origin: {lat: 37.7983, lng: -122.3778}
//	destination: {lat: 37.8164, lng: -122.3540}
//	targetDate: "2014-04"
//	lookAt: {lat: 37.8100, lng: -122.3600}
//	camera:
//	  offset: {x: 0, y: 0, z: 0}
//	session:
//	  spacing: 10
//	  useLookAt: true
type Plan struct {
	Name        string     `json:"name" yaml:"name"`
	Origin      *geo.Point `json:"origin,omitempty" yaml:"origin"`
	Destination *geo.Point `json:"destination,omitempty" yaml:"destination"`
	GPX         string     `json:"gpx,omitempty" yaml:"gpx"`
	TargetDate  string     `json:"targetDate,omitempty" yaml:"targetDate"`
	LookAt      *geo.Point `json:"lookAt,omitempty" yaml:"lookAt"`
	Output      string     `json:"output,omitempty" yaml:"output"`

	Camera  CameraPlan      `json:"camera" yaml:"camera"`
	Session SessionSettings `json:"session" yaml:"session"`
}

// CameraPlan holds the view offsets of a plan.
type CameraPlan struct {
	Position     playback.Vec2 `json:"position" yaml:"position"`
	Offset       playback.Vec3 `json:"offset" yaml:"offset"`
	Tilt         float64       `json:"tilt" yaml:"tilt"` // radians
	RotationComp *float64      `json:"rotationComp,omitempty" yaml:"rotationComp"`
	Pitch        float64       `json:"pitch" yaml:"pitch"`
}

// LoadPlan reads a plan file. Relative GPX and output paths are resolved
// against the plan's directory and unset session values take defaults.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if plan.GPX != "" && !filepath.IsAbs(plan.GPX) {
		plan.GPX = filepath.Join(dir, plan.GPX)
	}
	if plan.Output != "" && !filepath.IsAbs(plan.Output) {
		plan.Output = filepath.Join(dir, plan.Output)
	}
	return plan, nil
}

// ParsePlan decodes and validates plan YAML.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	plan.Session.mergeDefaults(DefaultSessionSettings())
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks the plan names a route and usable parameters.
func (p *Plan) Validate() error {
	hasEndpoints := p.Origin != nil && p.Destination != nil
	if !hasEndpoints && p.GPX == "" {
		return fmt.Errorf("plan needs origin and destination or a gpx file")
	}
	if hasEndpoints && (!p.Origin.Valid() || !p.Destination.Valid()) {
		return fmt.Errorf("plan endpoints out of range")
	}
	if p.LookAt != nil && !p.LookAt.Valid() {
		return fmt.Errorf("plan look-at point out of range")
	}
	if _, err := p.TargetTime(); err != nil {
		return err
	}
	if p.Session.UseLookAt && p.LookAt == nil {
		return fmt.Errorf("useLookAt requires a lookAt point")
	}
	return p.Session.Validate()
}

// TargetTime parses the target date, nil when unset.
func (p *Plan) TargetTime() (*time.Time, error) {
	if p.TargetDate == "" {
		return nil, nil
	}
	t, err := common.ParsePanoramaDate(p.TargetDate)
	if err != nil {
		return nil, fmt.Errorf("invalid target date: %w", err)
	}
	return &t, nil
}
