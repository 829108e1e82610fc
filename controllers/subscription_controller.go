package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/subscription"
	"github.com/ascendhq/ascend/utils"
)

// subscriptionCacheTTL bounds staleness if an invalidation is lost; webhook
// processing invalidates eagerly on every committed transition.
const subscriptionCacheTTL = 5 * time.Minute

// SubscriptionController reads subscription state. All writes arrive through
// provider webhooks; there is no API path that mutates a subscription.
type SubscriptionController struct {
	subs *subscription.Service
}

// NewSubscriptionController creates a SubscriptionController.
func NewSubscriptionController(subs *subscription.Service) *SubscriptionController {
	return &SubscriptionController{subs: subs}
}

// Get returns the account's current subscription. Accounts that never
// subscribed get a zero-value record with status "none".
func (s *SubscriptionController) Get(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	key := subscription.CacheKey(accountID)
	if raw, err := utils.CacheGetBytes(ctx.Request.Context(), key); err == nil && raw != nil {
		var cached models.Subscription
		if json.Unmarshal(raw, &cached) == nil {
			utils.Success(ctx, &cached)
			return
		}
	}

	sub, err := s.subs.Get(ctx.Request.Context(), accountID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to load subscription")
		return
	}
	utils.CacheSetJSON(ctx.Request.Context(), key, sub, subscriptionCacheTTL)
	utils.Success(ctx, sub)
}
