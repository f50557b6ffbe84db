package monitoring

import (
	"net/url"

	"github.com/core-tools/hsu-emulators/pkg/errors"
)

// ValidateReadinessConfig validates readiness configuration
func ValidateReadinessConfig(config ReadinessConfig) error {
	switch config.Type {
	case ReadinessTypeTCP, ReadinessTypeGRPC:
	case ReadinessTypeHTTP:
		if config.URL != "" {
			parsed, err := url.Parse(config.URL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return errors.NewValidationError("readiness URL must be absolute: "+config.URL, err)
			}
		}
	default:
		return errors.NewValidationError("unsupported readiness type: "+string(config.Type), nil)
	}

	if config.Timeout < 0 {
		return errors.NewValidationError("readiness timeout cannot be negative", nil)
	}
	if config.Interval < 0 {
		return errors.NewValidationError("readiness interval cannot be negative", nil)
	}
	if config.Timeout > 0 && config.Interval > config.Timeout {
		return errors.NewValidationError("readiness interval must not exceed timeout", nil)
	}

	return nil
}
