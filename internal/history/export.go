package history

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// exportEnvelope is the top-level shape of an export stream.
type exportEnvelope struct {
	ExportedAt time.Time    `json:"exported_at"`
	Scans      []ScanRecord `json:"scans"`
}

// Export writes a zstd-compressed JSON document of the most recent scans
// to w. minutes and limit are bounded the same way as GetRecentScans.
func (s *Storage) Export(w io.Writer, minutes int, limit int) error {
	scans, err := s.GetRecentScans(minutes, limit)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}

	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportEnvelope{
		ExportedAt: time.Now().UTC(),
		Scans:      scans,
	}); err != nil {
		zw.Close()
		return fmt.Errorf("encoding export: %w", err)
	}
	return zw.Close()
}
