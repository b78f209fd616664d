package askgate

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrQuotaExceeded       = errors.New("askgate: daily call quota exceeded")
	ErrTrialExpired        = errors.New("askgate: free trial expired")
	ErrNoAnswer            = errors.New("askgate: no answer available")
	ErrNoEndpoints         = errors.New("askgate: at least one endpoint is required")
	ErrEndpointUnavailable = errors.New("askgate: endpoint unavailable")
	ErrDecode              = errors.New("askgate: malformed endpoint response")
	ErrInvalidAnswerMode   = errors.New("askgate: invalid answer mode")
	ErrInvalidPlanTier     = errors.New("askgate: invalid plan tier")
	ErrProductNotFound     = errors.New("askgate: product not found")
	ErrVerificationFailed  = errors.New("askgate: transaction verification failed")
	ErrNoActiveEntitlement = errors.New("askgate: no valid subscription found")
	ErrFlagsUnavailable    = errors.New("askgate: entitlement flags unavailable")
)

// EndpointError wraps a single endpoint failure with the endpoint name.
type EndpointError struct {
	Endpoint string
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("askgate: endpoint=%s: %v", e.Endpoint, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// DispatchError is returned when every endpoint of a race failed.
// It matches ErrNoAnswer and each of the per-endpoint causes.
type DispatchError struct {
	Failures []*EndpointError
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Endpoint+": "+f.Err.Error())
	}
	return fmt.Sprintf("%v (endpoints=%d): %s", ErrNoAnswer, len(e.Failures), strings.Join(parts, "; "))
}

func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrNoAnswer)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// IsDenied reports whether err is a quota or trial denial rather than a failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrTrialExpired)
}
