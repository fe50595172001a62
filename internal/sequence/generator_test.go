package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/panorama"
	"hyperlapse-desktop/internal/route"
)

// scriptedResolver answers the n-th call with ids[n]; "" means no coverage.
type scriptedResolver struct {
	mu    sync.Mutex
	ids   []string
	calls int
	onCall func(n int)
}

func (s *scriptedResolver) Resolve(ctx context.Context, location geo.Point, target *time.Time) (*panorama.Record, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()

	if s.onCall != nil {
		s.onCall(n)
	}
	id := fmt.Sprintf("pano-%d", n)
	if n < len(s.ids) {
		id = s.ids[n]
	}
	if id == "" {
		return nil, fmt.Errorf("lookup: %w", common.ErrNoCoverage)
	}
	return &panorama.Record{PanoID: id, Location: location, Copyright: "© Google", ImageDate: "2014-04"}, nil
}

type fakeElevations struct {
	values []float64
	err    error
	calls  int
}

func (f *fakeElevations) ElevationsFor(ctx context.Context, locations []geo.Point) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.values != nil {
		return f.values, nil
	}
	out := make([]float64, len(locations))
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out, nil
}

func testRoute() *route.Route {
	// ~1001 m, 100 m spacing -> 11 samples
	return route.FromPath([]geo.Point{geo.NewPoint(48.0, 11.0), geo.NewPoint(48.009, 11.0)})
}

func TestGenerateDropsAdjacentDuplicates(t *testing.T) {
	resolver := &scriptedResolver{ids: []string{"a", "a", "b", "b", "b", "a", "c", "", "c", "d", "d"}}
	gen, err := NewGenerator(GeneratorConfig{Resolver: resolver})
	if err != nil {
		t.Fatal(err)
	}

	res, err := gen.Generate(context.Background(), testRoute(), Options{Spacing: 100, MaxPoints: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", res.Status)
	}
	if res.Samples != 11 || resolver.calls != 11 {
		t.Fatalf("samples = %d, calls = %d, want 11", res.Samples, resolver.calls)
	}

	got := res.Sequence.PanoIDs()
	want := []string{"a", "b", "a", "c", "d"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("pano ids = %v, want %v", got, want)
	}
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Fatalf("adjacent frames %d and %d share pano %s", i-1, i, got[i])
		}
	}
	if res.Duplicates != 5 || res.Unresolved != 1 {
		t.Errorf("duplicates = %d unresolved = %d, want 5 and 1", res.Duplicates, res.Unresolved)
	}
	for i, f := range res.Sequence.Frames() {
		if f.Index != i {
			t.Errorf("frame %d has index %d", i, f.Index)
		}
		if f.Elevation != NoElevation {
			t.Errorf("frame %d elevation = %v, want %v", i, f.Elevation, NoElevation)
		}
	}
}

func TestGenerateInsufficientCoverage(t *testing.T) {
	ids := make([]string, 11)
	for i := range ids {
		ids[i] = "same"
	}
	gen, _ := NewGenerator(GeneratorConfig{Resolver: &scriptedResolver{ids: ids}})

	_, err := gen.Generate(context.Background(), testRoute(), Options{Spacing: 100})
	if !errors.Is(err, common.ErrInsufficientCoverage) {
		t.Fatalf("err = %v, want ErrInsufficientCoverage", err)
	}
}

func TestGenerateRejectsEmptyRoute(t *testing.T) {
	gen, _ := NewGenerator(GeneratorConfig{Resolver: &scriptedResolver{}})
	_, err := gen.Generate(context.Background(), &route.Route{}, Options{})
	if !errors.Is(err, common.ErrRouteFailed) {
		t.Fatalf("err = %v, want ErrRouteFailed", err)
	}
}

func TestGenerateCancelStopsAtStepBoundary(t *testing.T) {
	var gen *Generator
	resolver := &scriptedResolver{}
	resolver.onCall = func(n int) {
		if n == 3 {
			gen.Cancel()
		}
	}
	gen, _ = NewGenerator(GeneratorConfig{Resolver: resolver})

	res, err := gen.Generate(context.Background(), testRoute(), Options{Spacing: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Status != StatusCanceled {
		t.Fatalf("status = %s, want canceled", res.Status)
	}
	// the in-flight resolution (call 3) completes, nothing after it starts
	if resolver.calls != 4 || res.Sequence.Len() != 4 {
		t.Fatalf("calls = %d frames = %d, want 4 and 4", resolver.calls, res.Sequence.Len())
	}
}

func TestGenerateCallerCancelSetBeforeStart(t *testing.T) {
	resolver := &scriptedResolver{}
	gen, _ := NewGenerator(GeneratorConfig{Resolver: resolver})

	opts := Options{Spacing: 100, Canceled: func() bool { return true }}
	res, err := gen.Generate(context.Background(), testRoute(), opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Status != StatusCanceled || resolver.calls != 0 || res.Sequence.Len() != 0 {
		t.Fatalf("status = %s calls = %d frames = %d, want canceled with no work",
			res.Status, resolver.calls, res.Sequence.Len())
	}
}

func TestGenerateElevationEnrichment(t *testing.T) {
	elev := &fakeElevations{}
	gen, _ := NewGenerator(GeneratorConfig{Resolver: &scriptedResolver{}, Elevations: elev})

	res, err := gen.Generate(context.Background(), testRoute(), Options{Spacing: 100, UseElevation: true})
	if err != nil {
		t.Fatal(err)
	}
	if elev.calls != 1 {
		t.Fatalf("elevation calls = %d, want 1 batched call", elev.calls)
	}
	for i, f := range res.Sequence.Frames() {
		if f.Elevation != 100+float64(i) {
			t.Errorf("frame %d elevation = %v, want %v", i, f.Elevation, 100+float64(i))
		}
	}
}

func TestGenerateElevationQuotaDegrades(t *testing.T) {
	elev := &fakeElevations{err: fmt.Errorf("status OVER_QUERY_LIMIT: %w", common.ErrQuotaExceeded)}
	var reported []error
	gen, _ := NewGenerator(GeneratorConfig{
		Resolver:      &scriptedResolver{},
		Elevations:    elev,
		ErrorCallback: func(err error) { reported = append(reported, err) },
	})

	res, err := gen.Generate(context.Background(), testRoute(), Options{Spacing: 100, UseElevation: true})
	if err != nil {
		t.Fatalf("Generate should degrade, got %v", err)
	}
	if !res.ElevationDisabled {
		t.Error("expected ElevationDisabled")
	}
	for i, f := range res.Sequence.Frames() {
		if f.Elevation != NoElevation {
			t.Errorf("frame %d elevation = %v, want -1", i, f.Elevation)
		}
	}
	if len(reported) != 1 || !errors.Is(reported[0], common.ErrQuotaExceeded) {
		t.Errorf("reported = %v, want one quota error", reported)
	}
}

func TestGenerateElevationLengthMismatchDegrades(t *testing.T) {
	elev := &fakeElevations{values: []float64{1, 2}}
	gen, _ := NewGenerator(GeneratorConfig{Resolver: &scriptedResolver{}, Elevations: elev})

	res, err := gen.Generate(context.Background(), testRoute(), Options{Spacing: 100, UseElevation: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.ElevationDisabled {
		t.Fatal("expected ElevationDisabled on short elevation answer")
	}
}

func TestGenerateContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen, _ := NewGenerator(GeneratorConfig{Resolver: &scriptedResolver{}})
	if _, err := gen.Generate(ctx, testRoute(), Options{Spacing: 100}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSequenceAppendRejectsAdjacentDuplicate(t *testing.T) {
	seq := NewSequence()
	if err := seq.Append(&Frame{PanoID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := seq.Append(&Frame{PanoID: "a"}); err == nil {
		t.Fatal("expected duplicate to be rejected")
	}
	if err := seq.Append(&Frame{PanoID: "b"}); err != nil {
		t.Fatal(err)
	}
	if seq.Len() != 2 || seq.At(1).Index != 1 || seq.At(2) != nil {
		t.Fatalf("unexpected sequence state: len %d", seq.Len())
	}
	seq.Reset()
	if seq.Len() != 0 || seq.LastPanoID() != "" {
		t.Fatal("Reset did not clear the sequence")
	}
}
