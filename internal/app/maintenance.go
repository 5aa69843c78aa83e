package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shpitdev/catalog-attribute-enricher/internal/catalog"
	"github.com/shpitdev/catalog-attribute-enricher/internal/config"
	"github.com/shpitdev/catalog-attribute-enricher/internal/metrics"
)

// ErrCheckFailed is returned by Check when a required input is missing.
var ErrCheckFailed = errors.New("environment check failed")

type CheckResult struct {
	ImageCount int
	Counts     catalog.Counts
	// Missing lists the required inputs that could not be found.
	Missing []string
}

// Check verifies that the prompt, the catalog and the image directory exist, and
// reports how much of the catalog is still pending.
func Check(cfg config.Config) (CheckResult, error) {
	var res CheckResult

	if _, err := os.Stat(cfg.Paths.Prompt); err != nil {
		res.Missing = append(res.Missing, "prompt "+cfg.Paths.Prompt)
	}

	if images, err := ListImages(cfg.Paths.Images); err != nil {
		res.Missing = append(res.Missing, "image directory "+cfg.Paths.Images)
	} else {
		res.ImageCount = len(images)
	}

	if store, err := catalog.Open(cfg.Paths.Catalog, cfg.OutputPath(), cfg.Columns); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			res.Missing = append(res.Missing, "catalog "+cfg.Paths.Catalog)
		} else {
			return res, err
		}
	} else {
		res.Counts = store.Counts()
	}

	if len(res.Missing) > 0 {
		return res, fmt.Errorf("%w: missing %s", ErrCheckFailed, strings.Join(res.Missing, ", "))
	}
	return res, nil
}

// Requeue clears error markers in the output catalog. See catalog.CSVStore.Requeue.
func Requeue(cfg config.Config, markers []string) (int, error) {
	store, err := catalog.Open(cfg.Paths.Catalog, cfg.OutputPath(), cfg.Columns)
	if err != nil {
		return 0, err
	}
	return store.Requeue(markers...)
}

// Export writes the current catalog state to an XLSX workbook at path.
func Export(cfg config.Config, path string) (catalog.Counts, error) {
	store, err := catalog.Open(cfg.Paths.Catalog, cfg.OutputPath(), cfg.Columns)
	if err != nil {
		return catalog.Counts{}, err
	}
	if err := store.ExportXLSX(path); err != nil {
		return catalog.Counts{}, err
	}
	return store.Counts(), nil
}

// EstimateFromReport projects the given volumes from the latest metrics in a saved
// benchmark report.
func EstimateFromReport(path string, volumes []int, opts metrics.EstimateOptions) ([]metrics.Estimate, error) {
	rep, err := metrics.ReadReport(path)
	if err != nil {
		return nil, err
	}
	m, err := rep.Latest()
	if err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		volumes = metrics.DefaultVolumes
	}
	if opts.QuotaPerMinute == 0 {
		opts.QuotaPerMinute = rep.TestConfiguration.QuotaLimit
	}
	return metrics.EstimateVolumes(volumes, m, opts)
}
