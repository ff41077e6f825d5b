package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/procfs/sysfs"
)

// raplSampleWindow is the fixed suspension between the two energy-counter
// reads that make up one power sample (spec §4.2.1).
const raplSampleWindow = 250 * time.Millisecond

// raplReader samples instantaneous package power from the kernel's RAPL
// energy counters. Zone discovery is delegated to
// github.com/prometheus/procfs/sysfs, the same library the teacher's own
// RAPL collector uses for zone enumeration; the two-read differencing below
// is this harness's own (the teacher reads a single cumulative counter for a
// Prometheus gauge, not an instantaneous watts sample).
type raplReader struct {
	fs     sysfs.FS
	zones  []sysfs.RaplZone
	logger *slog.Logger
}

func newRAPLReader(sysPath string, logger *slog.Logger) (*raplReader, error) {
	fs, err := sysfs.NewFS(sysPath)
	if err != nil {
		return nil, fmt.Errorf("agent: opening sysfs at %s: %w", sysPath, err)
	}

	zones, err := sysfs.GetRaplZones(fs)
	if err != nil {
		return nil, fmt.Errorf("agent: enumerating rapl zones: %w", err)
	}

	return &raplReader{fs: fs, zones: zones, logger: logger}, nil
}

// Sample returns a power reading in watts for every discovered zone, keyed
// by zone name (spec §4.2.1 steps 1-5).
func (r *raplReader) Sample() (map[string]float64, error) {
	first, err := r.readAll()
	if err != nil {
		return nil, err
	}

	t0 := time.Now()

	time.Sleep(raplSampleWindow)

	second, err := r.readAll()
	if err != nil {
		return nil, err
	}

	t1 := time.Now()

	dt := t1.Sub(t0)

	watts := make(map[string]float64, len(r.zones))

	for _, z := range r.zones {
		e0, ok0 := first[z.Name]
		e1, ok1 := second[z.Name]

		if !ok0 || !ok1 {
			continue
		}

		maxRange, err := z.GetMaxEnergyRangeMicrojoules()
		if err != nil {
			r.logger.Warn("could not read max energy range for rapl zone", "zone", z.Name, "err", err)

			continue
		}

		var deltaUJ float64
		if e1 > e0 {
			deltaUJ = float64(e1 - e0)
		} else {
			deltaUJ = float64(maxRange-e0) + float64(e1)
		}

		watts[z.Name] = deltaUJ / float64(dt.Nanoseconds()) * 1000
	}

	return watts, nil
}

func (r *raplReader) readAll() (map[string]uint64, error) {
	readings := make(map[string]uint64, len(r.zones))

	for _, z := range r.zones {
		uj, err := z.GetEnergyMicrojoules()
		if err != nil {
			return nil, fmt.Errorf("agent: reading energy counter for zone %s: %w", z.Name, err)
		}

		readings[z.Name] = uj
	}

	return readings, nil
}
