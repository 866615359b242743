// SPDX-License-Identifier: EPL-2.0

package conf

import (
	"errors"
	"fmt"
)

// CanonicalSampleRate is the only rate the pipeline renders at.
const CanonicalSampleRate = 31250

var ErrInvalidSettings = errors.New("invalid settings")

func (s *Settings) Validate() error {
	var errs []error

	if s.DataDir == "" {
		errs = append(errs, errors.New("datadir must be set"))
	}
	if s.Audio.SampleRate != CanonicalSampleRate {
		errs = append(errs, fmt.Errorf("audio.samplerate must be %d, got %d", CanonicalSampleRate, s.Audio.SampleRate))
	}
	if s.Cache.MaxPreviews < 1 {
		errs = append(errs, errors.New("cache.maxpreviews must be at least 1"))
	}
	if s.Sources.MaxCached < 1 {
		errs = append(errs, errors.New("sources.maxcached must be at least 1"))
	}
	if s.Sandbox.AckTimeout <= 0 || s.Sandbox.InstallTimeout <= 0 || s.Sandbox.MinRunTimeout <= 0 || s.Sandbox.RunTimeoutPerSecond <= 0 {
		errs = append(errs, errors.New("sandbox timeouts must be positive"))
	}
	if s.Sandbox.MaxPluginSize <= 0 {
		errs = append(errs, errors.New("sandbox.maxpluginsize must be positive"))
	}
	if s.Transfer.ProgressInterval <= 0 {
		errs = append(errs, errors.New("transfer.progressinterval must be positive"))
	}
	if s.Transfer.Workers < 1 {
		errs = append(errs, errors.New("transfer.workers must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}
