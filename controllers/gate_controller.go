package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ascendhq/ascend/gate"
	"github.com/ascendhq/ascend/utils"
)

// GateController answers feature authorization checks for clients. Gate
// decisions are advisory for UI rendering; feature endpoints re-check
// server-side before doing work.
type GateController struct {
	gate *gate.Evaluator
}

// NewGateController creates a GateController.
func NewGateController(ev *gate.Evaluator) *GateController {
	return &GateController{gate: ev}
}

// Check handles GET /gate/:feature.
func (g *GateController) Check(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	decision, err := g.gate.CanUse(ctx.Request.Context(), accountID, ctx.Param("feature"))
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to evaluate gate")
		return
	}
	utils.Success(ctx, decision)
}

// Use handles POST /gate/:feature/use. It re-checks the gate and records one
// use in the same request so a client cannot skip the counter.
func (g *GateController) Use(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	feature := ctx.Param("feature")
	decision, err := g.gate.CanUse(ctx.Request.Context(), accountID, feature)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to evaluate gate")
		return
	}
	if !decision.Allowed {
		utils.Error(ctx, http.StatusForbidden, 40360, decision.Reason)
		return
	}

	if _, err := g.gate.RecordUse(ctx.Request.Context(), accountID, feature); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50061, "failed to record use")
		return
	}
	utils.Success(ctx, decision)
}
