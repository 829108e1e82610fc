package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ascendhq/ascend/middleware"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

// AccountController handles registration, login and profile reads. Accounts
// are created here and only deactivated, never deleted.
type AccountController struct {
	db *gorm.DB
}

// NewAccountController creates an AccountController.
func NewAccountController(db *gorm.DB) *AccountController {
	return &AccountController{db: db}
}

// Register creates a new account with bcrypt hashing.
func (a *AccountController) Register(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" binding:"required,min=3,max=64"`
		Email    string `json:"email"`
		Password string `json:"password" binding:"required,min=6,max=72"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	var existing models.Account
	if err := a.db.Where("username = ?", req.Username).First(&existing).Error; err == nil {
		utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}

	acct := models.Account{
		Username:           req.Username,
		Email:              strings.TrimSpace(req.Email),
		PasswordHash:       hash,
		Tier:               models.TierFree,
		SubscriptionStatus: models.SubStatusNone,
		Level:              1,
		Active:             true,
	}
	if err := a.db.Create(&acct).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create account")
		return
	}

	token, err := utils.GenerateToken(acct.ID, acct.Username, 7*24*time.Hour)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "account": acct})
}

// Login authenticates a username/password pair.
func (a *AccountController) Login(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	var acct models.Account
	if err := a.db.Where("username = ?", strings.TrimSpace(req.Username)).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid credentials")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to load account")
		return
	}
	if !acct.Active {
		utils.Error(ctx, http.StatusForbidden, 40301, "account deactivated")
		return
	}
	if !utils.CheckPassword(acct.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid credentials")
		return
	}

	token, err := utils.GenerateToken(acct.ID, acct.Username, 7*24*time.Hour)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "account": acct})
}

// Logout revokes the presented token until its natural expiry.
func (a *AccountController) Logout(ctx *gin.Context) {
	authHeader := ctx.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 {
		token := strings.TrimSpace(parts[1])
		if claims, err := utils.ParseToken(token); err == nil && claims.ExpiresAt != nil {
			utils.BlacklistToken(token, claims.ExpiresAt.Time)
		}
	}
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the authenticated account.
func (a *AccountController) Me(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var acct models.Account
	if err := a.db.First(&acct, accountID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "account not found")
		return
	}
	utils.Success(ctx, acct)
}

// Deactivate marks the account inactive. State and history are retained.
func (a *AccountController) Deactivate(ctx *gin.Context) {
	accountID, ok := getAccountID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	if err := a.db.Model(&models.Account{}).Where("id = ?", accountID).
		Update("active", false).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50005, "failed to deactivate account")
		return
	}
	utils.Success(ctx, gin.H{"message": "account deactivated"})
}

// getAccountID extracts the authenticated account from the Gin context.
func getAccountID(ctx *gin.Context) (uint, bool) {
	v, ok := ctx.Get(middleware.ContextAccountIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
