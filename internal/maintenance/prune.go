package maintenance

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/security"
)

// pruneImages removes capture images older than ImageMaxAge in each
// configured directory, per spec's hourly filesystem-pruning loop. If
// free disk on the capture filesystem falls below EmergencyDiskPct, an
// emergency pass runs immediately with halved age thresholds.
func (m *Maintenance) pruneImages() {
	maxAge := m.cfg.ImageMaxAge
	emergency := false

	if m.cfg.DiskFreePercent != nil {
		if pct, err := m.cfg.DiskFreePercent(); err == nil && pct < m.cfg.EmergencyDiskPct {
			maxAge /= 2
			emergency = true
		} else if err != nil {
			m.log.Warn().Err(err).Msg("failed to read free disk percentage")
		}
	}

	removed, freedBytes := 0, int64(0)
	cutoff := time.Now().Add(-maxAge)

	for _, dir := range m.cfg.CaptureDirs {
		files, err := m.fs.ReadDir(dir)
		if err != nil {
			m.log.Warn().Err(err).Str("dir", dir).Msg("failed to list capture directory")
			continue
		}
		for _, path := range files {
			if !isImageFile(path) {
				continue
			}
			if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
				m.log.Error().Err(err).Str("path", path).Msg("refusing to prune path outside its capture directory")
				continue
			}
			info, err := m.fs.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := m.fs.Remove(path); err != nil {
				m.log.Warn().Err(err).Str("path", path).Msg("failed to remove aged capture file")
				continue
			}
			removed++
			freedBytes += info.Size()
		}
	}

	event := "prune_completed"
	if emergency {
		event = "emergency_prune_completed"
	}
	m.log.WithEvent(event).Info().
		Int("files_removed", removed).
		Int64("bytes_freed", freedBytes).
		Bool("emergency", emergency).
		Msg("filesystem pruning completed")

	stats := map[string]string{
		"last_prune":           strconv.FormatInt(time.Now().Unix(), 10),
		"last_prune_removed":   strconv.Itoa(removed),
		"last_prune_freed_mb":  strconv.FormatInt(freedBytes/(1024*1024), 10),
		"last_prune_emergency": strconv.FormatBool(emergency),
	}
	m.updateStats(stats)
}

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}

func (m *Maintenance) vacuum() {
	start := time.Now()
	if err := m.db.Vacuum(); err != nil {
		m.log.Error().Err(err).Msg("store compaction failed")
		m.updateStats(map[string]string{"last_vacuum_error": err.Error()})
		return
	}
	m.log.WithEvent("store_vacuum_completed").Info().Dur("duration", time.Since(start)).Msg("store compaction completed")
	m.updateStats(map[string]string{"last_vacuum": strconv.FormatInt(time.Now().Unix(), 10)})
}
