// Package http 期权引擎的 HTTP 接口层。
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unxversal/optionsengine/internal/options/application"
	"github.com/unxversal/optionsengine/internal/options/domain"
)

// OptionsHandler HTTP 处理器
type OptionsHandler struct {
	app        *application.OptionsService
	settlement *application.SettlementService
}

// NewOptionsHandler 创建 HTTP 处理器实例
func NewOptionsHandler(app *application.OptionsService, settlement *application.SettlementService) *OptionsHandler {
	return &OptionsHandler{app: app, settlement: settlement}
}

// RegisterRoutes 注册路由
func (h *OptionsHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/options")
	{
		admin := api.Group("/admin")
		{
			admin.POST("/assets", h.RegisterAsset)
			admin.PUT("/assets", h.UpdateAsset)
			admin.POST("/pause", h.Pause)
			admin.POST("/resume", h.Resume)
			admin.PUT("/discount-tiers", h.SetDiscountTiers)
		}

		api.GET("/assets", h.ListAssets)
		api.POST("/markets", h.CreateMarket)
		api.GET("/markets/:id", h.GetMarket)
		api.POST("/markets/:id/settle", h.SettleMarket)
		api.POST("/positions/long", h.OpenLong)
		api.POST("/positions/short", h.OpenShort)
		api.POST("/positions/:id/exercise", h.Exercise)
		api.GET("/positions", h.ListPositions)
	}
}

type assetRequest struct {
	Symbol          string `json:"symbol" binding:"required"`
	AssetClass      string `json:"asset_class" binding:"required"`
	MinStrike       int64  `json:"min_strike" binding:"required"`
	MaxStrike       int64  `json:"max_strike" binding:"required"`
	StrikeIncrement int64  `json:"strike_increment" binding:"required"`
	MinExpirySec    int64  `json:"min_expiry_sec" binding:"required"`
	MaxExpirySec    int64  `json:"max_expiry_sec" binding:"required"`
	Settlement      string `json:"settlement"`
	OracleFeedID    string `json:"oracle_feed_id" binding:"required"`
	BaseVolBps      int64  `json:"base_vol_bps" binding:"required"`
	Active          *bool  `json:"active"`
}

func (r *assetRequest) toDomain() *domain.UnderlyingAsset {
	settlement := domain.SettleCash
	if r.Settlement != "" {
		settlement = domain.SettlementKind(r.Settlement)
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &domain.UnderlyingAsset{
		Symbol:          r.Symbol,
		AssetClass:      r.AssetClass,
		MinStrike:       r.MinStrike,
		MaxStrike:       r.MaxStrike,
		StrikeIncrement: r.StrikeIncrement,
		MinExpiry:       time.Duration(r.MinExpirySec) * time.Second,
		MaxExpiry:       time.Duration(r.MaxExpirySec) * time.Second,
		Settlement:      settlement,
		OracleFeedID:    r.OracleFeedID,
		BaseVolBps:      r.BaseVolBps,
		Active:          active,
	}
}

// RegisterAsset 注册标的
func (h *OptionsHandler) RegisterAsset(c *gin.Context) {
	var req assetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset := req.toDomain()
	if err := h.app.RegisterUnderlying(c.Request.Context(), asset); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

// UpdateAsset 更新标的
func (h *OptionsHandler) UpdateAsset(c *gin.Context) {
	var req assetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset := req.toDomain()
	if err := h.app.UpdateUnderlying(c.Request.Context(), asset); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// ListAssets 列出标的
func (h *OptionsHandler) ListAssets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": h.app.ListUnderlyings(c.Request.Context())})
}

// Pause 全局暂停
func (h *OptionsHandler) Pause(c *gin.Context) {
	h.app.SetPaused(c.Request.Context(), true)
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume 恢复交易
func (h *OptionsHandler) Resume(c *gin.Context) {
	h.app.SetPaused(c.Request.Context(), false)
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

type discountTiersRequest struct {
	Tiers []struct {
		StakeThreshold int64 `json:"stake_threshold" binding:"required"`
		DiscountBps    int64 `json:"discount_bps"`
	} `json:"tiers" binding:"required"`
}

// SetDiscountTiers 整表替换折扣阶梯
func (h *OptionsHandler) SetDiscountTiers(c *gin.Context) {
	var req discountTiersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tiers := make([]domain.DiscountTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, domain.DiscountTier{StakeThreshold: t.StakeThreshold, DiscountBps: t.DiscountBps})
	}
	h.app.SetDiscountTiers(c.Request.Context(), tiers)
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

type createMarketRequest struct {
	Underlying string `json:"underlying" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
	Strike     int64  `json:"strike" binding:"required"`
	ExpiryUnix int64  `json:"expiry_unix" binding:"required"`
}

// CreateMarket 创建期权市场
func (h *OptionsHandler) CreateMarket(c *gin.Context) {
	var req createMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	market, err := h.app.CreateMarket(c.Request.Context(), application.CreateMarketCmd{
		Underlying: req.Underlying,
		Kind:       domain.OptionKind(req.Kind),
		Strike:     req.Strike,
		Expiry:     time.Unix(req.ExpiryUnix, 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, market)
}

// GetMarket 查询市场
func (h *OptionsHandler) GetMarket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}
	market, err := h.app.GetMarket(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, market)
}

type openLongRequest struct {
	Owner       string `json:"owner" binding:"required"`
	MarketID    int64  `json:"market_id" binding:"required"`
	Quantity    int64  `json:"quantity" binding:"required"`
	MaxPremium  int64  `json:"max_premium" binding:"required"`
	StakeAmount int64  `json:"stake_amount"`
}

// OpenLong 买方开仓
func (h *OptionsHandler) OpenLong(c *gin.Context) {
	var req openLongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	position, err := h.app.OpenLong(c.Request.Context(), application.OpenLongCmd{
		Owner:       req.Owner,
		MarketID:    req.MarketID,
		Quantity:    req.Quantity,
		MaxPremium:  req.MaxPremium,
		StakeAmount: req.StakeAmount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, position)
}

type openShortRequest struct {
	Owner             string `json:"owner" binding:"required"`
	MarketID          int64  `json:"market_id" binding:"required"`
	Quantity          int64  `json:"quantity" binding:"required"`
	MinPremium        int64  `json:"min_premium"`
	CollateralOffered int64  `json:"collateral_offered" binding:"required"`
	StakeAmount       int64  `json:"stake_amount"`
}

// OpenShort 卖方开仓
func (h *OptionsHandler) OpenShort(c *gin.Context) {
	var req openShortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	position, err := h.app.OpenShort(c.Request.Context(), application.OpenShortCmd{
		Owner:             req.Owner,
		MarketID:          req.MarketID,
		Quantity:          req.Quantity,
		MinPremium:        req.MinPremium,
		CollateralOffered: req.CollateralOffered,
		StakeAmount:       req.StakeAmount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, position)
}

type exerciseRequest struct {
	Owner       string `json:"owner" binding:"required"`
	Quantity    int64  `json:"quantity" binding:"required"`
	StakeAmount int64  `json:"stake_amount"`
}

// Exercise 手动行权
func (h *OptionsHandler) Exercise(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position id"})
		return
	}
	var req exerciseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settlement, err := h.settlement.Exercise(c.Request.Context(), application.ExerciseCmd{
		Owner:       req.Owner,
		PositionID:  id,
		Quantity:    req.Quantity,
		StakeAmount: req.StakeAmount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position_id": id, "settlement": settlement})
}

// SettleMarket 到期批量结算
func (h *OptionsHandler) SettleMarket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market id"})
		return
	}
	report, err := h.settlement.AutoExercise(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListPositions 查询账户持仓
func (h *OptionsHandler) ListPositions(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
		return
	}
	positions, err := h.app.ListPositions(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// respondError 领域错误到 HTTP 状态码的映射。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidOptionKind),
		errors.Is(err, domain.ErrInvalidStrike),
		errors.Is(err, domain.ErrInvalidExpiry),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidBounds),
		errors.Is(err, domain.ErrQuantityExceedsHeld):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAssetNotFound),
		errors.Is(err, domain.ErrMarketNotFound),
		errors.Is(err, domain.ErrPositionNotFound),
		errors.Is(err, domain.ErrFeedNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAssetExists),
		errors.Is(err, domain.ErrMarketExists),
		errors.Is(err, domain.ErrAlreadyExercised),
		errors.Is(err, domain.ErrSettlementInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrSystemPaused),
		errors.Is(err, domain.ErrMarketNotActive),
		errors.Is(err, domain.ErrMarketNotExpired),
		errors.Is(err, domain.ErrAssetInactive),
		errors.Is(err, domain.ErrPremiumExceedsLimit),
		errors.Is(err, domain.ErrPremiumBelowLimit),
		errors.Is(err, domain.ErrInsufficientCollateral),
		errors.Is(err, domain.ErrNotInTheMoney),
		errors.Is(err, domain.ErrNotLongPosition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStalePrice),
		errors.Is(err, domain.ErrFeedMismatch):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
