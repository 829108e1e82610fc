package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ascendhq/ascend/progression"
	"github.com/ascendhq/ascend/utils"
)

// Activity types the API accepts. Anything else is rejected rather than
// silently counted toward the streak.
var allowedActivities = map[string]bool{
	"goal_completed":    true,
	"habit_checked":     true,
	"journal_entry":     true,
	"coaching_session":  true,
	"reflection_posted": true,
}

// ProgressionController exposes XP, level, streak and achievement reads plus
// the activity endpoint that drives them.
type ProgressionController struct {
	prog *progression.Service
}

// NewProgressionController creates a ProgressionController.
func NewProgressionController(prog *progression.Service) *ProgressionController {
	return &ProgressionController{prog: prog}
}

// RecordActivity handles POST /progression/activity.
func (p *ProgressionController) RecordActivity(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	type request struct {
		ActivityType string `json:"activity_type" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	if !allowedActivities[req.ActivityType] {
		utils.Error(ctx, http.StatusBadRequest, 40040, "unknown activity type")
		return
	}

	res, err := p.prog.RecordActivity(ctx.Request.Context(), accountID, req.ActivityType)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to record activity")
		return
	}
	utils.Success(ctx, res)
}

// Summary handles GET /progression/summary.
func (p *ProgressionController) Summary(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	summary, err := p.prog.GetSummary(ctx.Request.Context(), accountID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50051, "failed to load summary")
		return
	}
	utils.Success(ctx, summary)
}

// Achievements handles GET /progression/achievements.
func (p *ProgressionController) Achievements(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	unlocked, err := p.prog.GetAchievements(ctx.Request.Context(), accountID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50052, "failed to load achievements")
		return
	}
	utils.Success(ctx, gin.H{"achievements": unlocked})
}
