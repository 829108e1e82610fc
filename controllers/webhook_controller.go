package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ascendhq/ascend/billing"
	"github.com/ascendhq/ascend/payments"
	"github.com/ascendhq/ascend/utils"
)

// maxWebhookBody bounds webhook payload reads. Providers send small JSON
// documents; anything larger is hostile.
const maxWebhookBody = 1 << 20

// WebhookController receives provider callbacks, verifies them through the
// matching adapter and hands the canonical event to the processor.
//
// Status codes follow provider retry semantics: 2xx acknowledges (including
// duplicates and events we deliberately record without applying), 400 tells
// the provider the payload is unacceptable and retrying is pointless, 5xx
// requests a retry for transient failures on our side.
type WebhookController struct {
	adapters  map[string]billing.Adapter
	processor *payments.Processor
}

// NewWebhookController wires one controller over the registered adapters.
func NewWebhookController(processor *payments.Processor, adapters ...billing.Adapter) *WebhookController {
	byName := make(map[string]billing.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Provider()] = a
	}
	return &WebhookController{adapters: byName, processor: processor}
}

// Receive handles POST /webhooks/:provider.
func (w *WebhookController) Receive(ctx *gin.Context) {
	provider := ctx.Param("provider")
	adapter, ok := w.adapters[provider]
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40420, "unknown payment provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "failed to read request body")
		return
	}

	ev, err := adapter.Normalize(ctx.Request.Context(), body, ctx.Request.Header)
	if err != nil {
		if billing.IsVerificationError(err) {
			utils.Sugar.Warnf("webhook rejected for %s: %v", provider, err)
			utils.Error(ctx, http.StatusBadRequest, 40021, "webhook verification failed")
			return
		}
		// Receipt verification endpoints can be down; ask the provider
		// to redeliver.
		utils.Sugar.Errorf("webhook normalization failed for %s: %v", provider, err)
		utils.Error(ctx, http.StatusBadGateway, 50220, "provider verification unavailable")
		return
	}
	if ev == nil {
		// Recognized but irrelevant event type. Acknowledge so the
		// provider stops redelivering it.
		utils.Success(ctx, gin.H{"ignored": true})
		return
	}

	result, err := w.processor.Process(ctx.Request.Context(), ev)
	if err != nil {
		utils.Sugar.Errorf("webhook processing failed for %s tx %s: %v", provider, ev.ProviderTxID, err)
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to process event")
		return
	}

	utils.Success(ctx, gin.H{
		"result":    result.Code,
		"duplicate": result.Duplicate,
	})
}
