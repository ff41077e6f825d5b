package runner

import (
	"context"
	"log/slog"
	"time"
)

// CalibrationResult reports the observed idle and loaded power draw of the
// SUT, sampled immediately before a campaign (original_source/runner/src/Runner.py
// calibrate/get_min_max_power, supplemented here since spec.md's distillation
// dropped it). This is informational only: it never gates or alters the
// campaign matrix, so it stays Non-goal-compatible with spec.md's exclusion
// of closed-loop control.
type CalibrationResult struct {
	MinPowerWatts int
	MaxPowerWatts int
}

// calibrationSampleDuration mirrors the Python driver's 20-second sampling
// window on each side of the idle/loaded measurement.
const calibrationSampleDuration = 20 * time.Second

// Calibrate samples BMC power at idle for one window, then launches a
// full-load firestarter job and samples again, reporting the observed
// min/max. Callers may log or persist the result as a note; it has no
// effect on RunTest/RunCampaign.
func (r *Runner) Calibrate(ctx context.Context, nThreads int, logger *slog.Logger) (CalibrationResult, error) {
	minPower, err := r.sampleExtremum(ctx, true)
	if err != nil {
		return CalibrationResult{}, err
	}

	sampleSecs := int(calibrationSampleDuration.Seconds())
	if err := r.agent.launchFirestarter(ctx, 100, nThreads, sampleSecs); err != nil {
		return CalibrationResult{}, err
	}

	maxPower, err := r.sampleExtremum(ctx, false)
	if err != nil {
		return CalibrationResult{}, err
	}

	// Let firestarter's job finish before the campaign proper begins.
	if err := r.sleep(ctx, 2*time.Second); err != nil {
		return CalibrationResult{}, err
	}

	result := CalibrationResult{MinPowerWatts: minPower, MaxPowerWatts: maxPower}

	logger.Info("calibration complete", "min_power_watts", result.MinPowerWatts, "max_power_watts", result.MaxPowerWatts)

	return result, nil
}

// sampleExtremum polls CurrentPower once a second across the sampling window,
// tracking the minimum (findMin=true) or maximum observed wattage.
func (r *Runner) sampleExtremum(ctx context.Context, findMin bool) (int, error) {
	samples := int(calibrationSampleDuration.Seconds()) + 1

	extremum := 0
	if findMin {
		extremum = int(^uint(0) >> 1) // math.MaxInt, avoiding an import just for this
	}

	for i := 0; i < samples; i++ {
		if err := r.sleep(ctx, time.Second); err != nil {
			return 0, err
		}

		watts, err := r.bmc.CurrentPower(ctx)
		if err != nil {
			return 0, err
		}

		if findMin && watts < extremum {
			extremum = watts
		}

		if !findMin && watts > extremum {
			extremum = watts
		}
	}

	return extremum, nil
}
