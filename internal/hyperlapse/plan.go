package hyperlapse

import (
	"context"
	"fmt"

	"hyperlapse-desktop/internal/config"
	"hyperlapse-desktop/internal/route"
)

// ApplyPlan applies a plan's camera and look-at settings to the session and
// returns the request describing its route. The request carries the camera
// too, since starting a generation resets the engine's per-run offsets. The
// plan's session settings are expected to have been passed to New.
func (s *Session) ApplyPlan(ctx context.Context, plan *config.Plan) (GenerateRequest, error) {
	var req GenerateRequest

	target, err := plan.TargetTime()
	if err != nil {
		return req, err
	}
	req.TargetDate = target

	switch {
	case plan.GPX != "":
		r, err := route.LoadGPX(plan.GPX)
		if err != nil {
			return req, fmt.Errorf("failed to load route: %w", err)
		}
		req.Route = r
	case plan.Origin != nil && plan.Destination != nil:
		req.Origin = *plan.Origin
		req.Destination = *plan.Destination
	default:
		return req, fmt.Errorf("plan %q has no route", plan.Name)
	}

	cam := plan.Camera
	s.applyCamera(cam)
	req.Camera = &cam

	if plan.LookAt != nil {
		if err := s.SetLookAt(ctx, *plan.LookAt); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (s *Session) applyCamera(cam config.CameraPlan) {
	s.SetPosition(cam.Position)
	s.SetOffset(cam.Offset)
	s.SetTilt(cam.Tilt)
	s.SetPitch(cam.Pitch)
	if cam.RotationComp != nil {
		s.SetRotationComp(true, *cam.RotationComp)
	}
}
