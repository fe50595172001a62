package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsMissingFileGivesDefaults(t *testing.T) {
	t.Setenv("HYPERLAPSE_API_KEY", "")
	t.Setenv("GOOGLE_MAPS_API_KEY", "")

	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("LoadSettingsFrom: %v", err)
	}
	if s.Session.Spacing != 5 || s.Session.MaxPoints != 100 || s.Session.Zoom != 3 || s.Session.FOV != 80 {
		t.Errorf("session defaults = %+v", s.Session)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestSettingsRoundTripMergesDefaults(t *testing.T) {
	t.Setenv("HYPERLAPSE_API_KEY", "")
	t.Setenv("GOOGLE_MAPS_API_KEY", "")
	path := filepath.Join(t.TempDir(), "settings.json")

	if err := os.WriteFile(path, []byte(`{"apiKey":"stored","session":{"spacing":12}}`), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettingsFrom(path)
	if err != nil {
		t.Fatalf("LoadSettingsFrom: %v", err)
	}
	if s.APIKey != "stored" || s.Session.Spacing != 12 || s.Session.MaxPoints != 100 || s.Theme != "system" {
		t.Errorf("merged settings = %+v", s)
	}

	s.Session.FOV = 65
	if err := SaveSettingsTo(path, s); err != nil {
		t.Fatalf("SaveSettingsTo: %v", err)
	}
	again, err := LoadSettingsFrom(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Session.FOV != 65 {
		t.Errorf("FOV = %g, want 65", again.Session.FOV)
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("HYPERLAPSE_API_KEY", "")
	t.Setenv("GOOGLE_MAPS_API_KEY", "from-env")

	s := DefaultSettings()
	s.APIKey = "stored"
	s.ApplyEnv()
	if s.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", s.APIKey)
	}

	t.Setenv("HYPERLAPSE_API_KEY", "preferred")
	s.ApplyEnv()
	if s.APIKey != "preferred" {
		t.Errorf("APIKey = %q, want preferred", s.APIKey)
	}
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SessionSettings)
	}{
		{"spacing", func(s *SessionSettings) { s.Spacing = 0 }},
		{"max points", func(s *SessionSettings) { s.MaxPoints = 1 }},
		{"zoom", func(s *SessionSettings) { s.Zoom = 6 }},
		{"fov", func(s *SessionSettings) { s.FOV = 180 }},
		{"quality", func(s *SessionSettings) { s.JPEGQuality = 101 }},
	}
	for _, tt := range tests {
		s := DefaultSessionSettings()
		tt.mutate(&s)
		if err := s.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	yaml := `
name: bridge
gpx: tracks/bridge.gpx
targetDate: "2014-04"
lookAt: {lat: 37.81, lng: -122.36}
camera:
  offset: {x: 10, y: 0, z: 5}
session:
  spacing: 10
  useLookAt: true
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if plan.GPX != filepath.Join(dir, "tracks", "bridge.gpx") {
		t.Errorf("GPX = %s", plan.GPX)
	}
	if plan.Session.Spacing != 10 || plan.Session.MaxPoints != 100 {
		t.Errorf("session = %+v", plan.Session)
	}
	if plan.Camera.Offset.X != 10 || plan.Camera.Offset.Z != 5 {
		t.Errorf("camera = %+v", plan.Camera)
	}
	target, err := plan.TargetTime()
	if err != nil || target == nil || target.Year() != 2014 || target.Month() != 4 {
		t.Errorf("TargetTime = %v, %v", target, err)
	}
}

func TestParsePlanRejects(t *testing.T) {
	tests := map[string]string{
		"no route":        `name: x`,
		"bad date":        "gpx: a.gpx\ntargetDate: soon",
		"look-at missing": "gpx: a.gpx\nsession: {useLookAt: true}",
		"bad endpoint":    "origin: {lat: 95, lng: 0}\ndestination: {lat: 0, lng: 0}",
	}
	for name, doc := range tests {
		if _, err := ParsePlan([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
