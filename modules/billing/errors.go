package billing

import (
	"errors"
	"net/http"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/limits"
	"github.com/clinicore/backend/billing/subscription"
	"github.com/clinicore/backend/core"
)

// mapDomainError translates billing domain sentinels into HTTP errors with
// stable keys. Unknown errors pass through and render as opaque 500s.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrPlanNotFound):
		return core.NewHTTPError(http.StatusNotFound, "plan_not_found")
	case errors.Is(err, catalog.ErrPlanInactive):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "plan_inactive")
	case errors.Is(err, catalog.ErrCycleNotAvailable):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "cycle_not_available")
	case errors.Is(err, gateway.ErrUnsupportedGateway):
		return core.NewHTTPError(http.StatusBadRequest, "unsupported_gateway")
	case errors.Is(err, subscription.ErrSubscriptionExists):
		return core.NewHTTPError(http.StatusConflict, "subscription_exists")
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return core.NewHTTPError(http.StatusNotFound, "subscription_not_found")
	case errors.Is(err, subscription.ErrTenantNotFound):
		return core.NewHTTPError(http.StatusNotFound, "tenant_not_found")
	case errors.Is(err, limits.ErrLimitExceeded):
		return core.NewHTTPError(http.StatusPaymentRequired, "plan_limit_reached")
	case errors.Is(err, limits.ErrTrialExpired):
		return core.NewHTTPError(http.StatusPaymentRequired, "trial_expired")
	case errors.Is(err, limits.ErrNoSubscription):
		return core.NewHTTPError(http.StatusPaymentRequired, "no_subscription")
	default:
		return err
	}
}
