package export

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/sequence"
)

// Track builds a GeoJSON collection with the frame path as a LineString and
// one Point feature per frame.
func Track(seq *sequence.Sequence, label string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	frames := seq.Frames()

	line := make(orb.LineString, 0, len(frames))
	for _, f := range frames {
		line = append(line, f.Location.Orb())
	}
	path := geojson.NewFeature(line)
	path.Properties["label"] = label
	path.Properties["frames"] = len(frames)
	fc.Append(path)

	for _, f := range frames {
		pt := geojson.NewFeature(f.Location.Orb())
		pt.Properties["index"] = f.Index
		pt.Properties["panoId"] = f.PanoID
		pt.Properties["imageDate"] = f.ImageDate
		pt.Properties["display"] = common.FormatOverlay(f.ImageDate)
		if f.Elevation != sequence.NoElevation {
			pt.Properties["elevation"] = f.Elevation
		}
		fc.Append(pt)
	}
	return fc
}

// TrackJSON encodes Track.
func TrackJSON(seq *sequence.Sequence, label string) ([]byte, error) {
	data, err := Track(seq, label).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode track: %w", err)
	}
	return data, nil
}
