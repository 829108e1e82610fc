// Package subscription owns subscription status transitions. The transition
// table is the whole point: a stale or out-of-order provider event that
// would drive an impossible edge (a "renewed" for a cancelled subscription)
// is rejected instead of silently accepted.
package subscription

import (
	"errors"
	"fmt"

	"github.com/ascendhq/ascend/billing"
	"github.com/ascendhq/ascend/models"
)

// ErrInvalidTransition marks an event impossible from the current status.
// The state is left unchanged and the event is acknowledged to the provider,
// since re-delivering it will not help.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// transitions is the full edge table. Renewal from active is a self-loop
// that extends the period.
var transitions = map[string]map[billing.EventType]string{
	models.SubStatusNone: {
		billing.EventSubscriptionCreated: models.SubStatusActive,
	},
	models.SubStatusActive: {
		billing.EventSubscriptionRenewed:   models.SubStatusActive,
		billing.EventPaymentFailed:         models.SubStatusPastDue,
		billing.EventSubscriptionCancelled: models.SubStatusCancelling,
		billing.EventSubscriptionPaused:    models.SubStatusPaused,
	},
	models.SubStatusPastDue: {
		// Recovered payment, or grace period exhausted.
		billing.EventSubscriptionRenewed:   models.SubStatusActive,
		billing.EventSubscriptionCancelled: models.SubStatusCancelled,
	},
	models.SubStatusPaused: {
		// Cancelling at the provider while paused skips the cancelling
		// grace period; there is no paid period left to run out.
		billing.EventSubscriptionResumed:   models.SubStatusActive,
		billing.EventSubscriptionCancelled: models.SubStatusCancelled,
	},
	models.SubStatusCancelling: {
		// Un-cancel before period end, or the final period-end notice.
		billing.EventSubscriptionResumed:   models.SubStatusActive,
		billing.EventSubscriptionCancelled: models.SubStatusCancelled,
	},
	models.SubStatusCancelled: {},
}

// Transition returns the next status for an event applied to current, or
// ErrInvalidTransition for any edge outside the table.
func Transition(current string, event billing.EventType) (string, error) {
	edges, ok := transitions[current]
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, current)
	}
	next, ok := edges[event]
	if !ok {
		return "", fmt.Errorf("%w: %s + %s", ErrInvalidTransition, current, event)
	}
	return next, nil
}
