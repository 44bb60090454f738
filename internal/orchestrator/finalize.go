package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/archivore/mirror/pkg/types"
)

// finalize reduces whatever the journal holds into a sorted manifest,
// writes every run artifact (manifest, catalog, sku map, payment map, and
// the root redirect), and returns the finished Manifest.
func (r *Run) finalize() (types.Manifest, error) {
	records, err := ReduceJournal(filepath.Join(r.opts.OutDir, "manifest.partial.jsonl"))
	if err != nil {
		return types.Manifest{}, fmt.Errorf("reducing journal: %w", err)
	}

	stats := computeStats(records)

	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()

	manifest := types.Manifest{Records: records, Stats: stats, Stopped: stopped}

	if err := writeManifest(r.opts.OutDir, manifest); err != nil {
		return manifest, err
	}

	if err := r.cat.Save(); err != nil {
		r.logger.Warn("saving catalog", zap.Error(err))
	}
	if err := r.skuRegistry.Save(); err != nil {
		r.logger.Warn("saving sku map", zap.Error(err))
	}
	if err := r.paymentMap.Save(); err != nil {
		r.logger.Warn("saving payment map", zap.Error(err))
	}

	if err := writeRootRedirect(r.opts.OutDir, r.opts.PrimarySeed, records); err != nil {
		r.logger.Warn("writing root redirect", zap.Error(err))
	}

	return manifest, nil
}

func computeStats(records []types.CaptureRecord) types.RunStats {
	stats := types.RunStats{Pages: len(records)}
	for _, rec := range records {
		if !rec.IsSuccess() {
			stats.Failures++
		}
		stats.Assets += rec.Assets
	}
	return stats
}

func writeManifest(outDir string, manifest types.Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(outDir, "manifest.json"), data, 0o644)
}

// writeRootRedirect resolves the primary seed's capture record — preferring
// its desktop profile, falling back to any record sharing its page key,
// then to the first record overall — and writes <outDir>/index.html
// redirecting to that record's localPath.
func writeRootRedirect(outDir, primarySeed string, records []types.CaptureRecord) error {
	if len(records) == 0 {
		return nil
	}

	target := selectRootTarget(primarySeed, records)
	if target == "" {
		return nil
	}

	body := `<!DOCTYPE html><html><head><meta charset="utf-8">` +
		`<meta http-equiv="refresh" content="0; url=` + target + `">` +
		`<script>location.replace(` + jsonString(target) + ` + location.search + location.hash);</script>` +
		`</head><body></body></html>`

	return os.WriteFile(filepath.Join(outDir, "index.html"), []byte(body), 0o644)
}

func selectRootTarget(primarySeed string, records []types.CaptureRecord) string {
	var sameKeyRecords []types.CaptureRecord
	for _, rec := range records {
		if rec.URL == primarySeed {
			sameKeyRecords = append(sameKeyRecords, rec)
		}
	}

	if len(sameKeyRecords) > 0 {
		sort.Slice(sameKeyRecords, func(i, j int) bool {
			return sameKeyRecords[i].Profile < sameKeyRecords[j].Profile
		})
		for _, rec := range sameKeyRecords {
			if rec.Profile == "desktop" {
				return "/" + rec.LocalPath + "/"
			}
		}
		return "/" + sameKeyRecords[0].LocalPath + "/"
	}

	return "/" + records[0].LocalPath + "/"
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
