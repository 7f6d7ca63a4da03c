package breaker

import (
	"github.com/angelmondragon/commerce-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

// SettingsFromConfig maps the environment breaker settings. Provider rejections
// of a well-formed request and forged webhook signatures do not count as failures.
func SettingsFromConfig(cfg config.BreakerConfig) Settings {
	return Settings{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		CallTimeout:      cfg.CallTimeout,
		IsFailure:        countsAsFailure,
	}
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeGatewayRejected, pkgerrors.CodeValidation, pkgerrors.CodeSecurity:
		return false
	default:
		return true
	}
}
