package export

import (
	"time"

	"hyperlapse-desktop/internal/common"
)

// NewLabel returns the export label for a run started at t.
func NewLabel(t time.Time) string {
	return common.FormatExportLabel(t)
}
