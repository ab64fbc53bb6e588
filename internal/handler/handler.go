package handler

import (
	"errors"
	"strconv"

	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler 积分接口处理器
type Handler struct {
	ledger *service.LedgerService
	log    zerolog.Logger
}

// NewHandler 创建处理器实例
func NewHandler(ledger *service.LedgerService, log zerolog.Logger) *Handler {
	return &Handler{ledger: ledger, log: log}
}

// ============================================================
// 查询接口
// ============================================================

// GetBalance 查询当前用户积分
// GET /api/v1/credits/balance
func (h *Handler) GetBalance(c *gin.Context) {
	account, err := h.ledger.GetAccount(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":      account.UserID,
		"credits":      account.Credits,
		"used_credits": account.UsedCredits,
	})
}

// ListTransactions 分页查询积分流水
// GET /api/v1/credits/transactions?limit=10&page=0
func (h *Handler) ListTransactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		response.ParamError(c, "limit 参数错误")
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		response.ParamError(c, "page 参数错误")
		return
	}

	list, total, err := h.ledger.ListTransactions(c.Request.Context(), currentUserID(c), limit, page)
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  list,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// GetPricing 各功能的积分价格
// GET /api/v1/credits/pricing
func (h *Handler) GetPricing(c *gin.Context) {
	response.Success(c, h.ledger.Pricing().Table())
}

// ============================================================
// 变更接口
// ============================================================

// DeductRequest 扣减请求
type DeductRequest struct {
	ServiceType string `json:"service_type" binding:"required"`
	RequestID   string `json:"request_id"` // 幂等ID，可选
}

// Deduct 调用收费功能前扣减积分，积分不足返回 402
// POST /api/v1/credits/deduct
func (h *Handler) Deduct(c *gin.Context) {
	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.ledger.Deduct(c.Request.Context(), &service.DeductRequest{
		UserID:      currentUserID(c),
		ServiceType: req.ServiceType,
		RequestID:   req.RequestID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"credits":      balance,
		"credits_cost": h.ledger.RequiredCredits(req.ServiceType),
	})
}

// RefundRequest 退还请求
// amount > 0 时按金额退还；service_type 非空时按失败退还比例计算；二者只能指定一个
type RefundRequest struct {
	Amount      int64  `json:"amount" binding:"gte=0"`
	Reason      string `json:"reason"`
	ServiceType string `json:"service_type"`
	RequestID   string `json:"request_id"`
}

// Refund 退还积分
// POST /internal/v1/credits/refund
func (h *Handler) Refund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var (
		balance int64
		err     error
	)
	switch {
	case req.Amount > 0 && req.ServiceType != "":
		response.ParamError(c, "amount 与 service_type 只能指定一个")
		return
	case req.Amount > 0:
		balance, err = h.ledger.Refund(c.Request.Context(), &service.RefundRequest{
			UserID:    currentUserID(c),
			Amount:    req.Amount,
			Reason:    req.Reason,
			RequestID: req.RequestID,
		})
	case req.ServiceType != "":
		balance, err = h.ledger.RefundFailure(c.Request.Context(), currentUserID(c), req.ServiceType, req.RequestID)
	default:
		response.ParamError(c, "amount 与 service_type 不能同时为空")
		return
	}
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, gin.H{"credits": balance})
}

// PurchaseRequest 购买积分请求，由支付回调确认后调用
type PurchaseRequest struct {
	Amount           int64  `json:"amount" binding:"required,gt=0"`
	PaymentReference string `json:"payment_reference" binding:"required"`
}

// Purchase 发放购买的积分
// POST /internal/v1/credits/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.ledger.GrantPurchase(c.Request.Context(), &service.PurchaseRequest{
		UserID:           currentUserID(c),
		Amount:           req.Amount,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, gin.H{"credits": balance})
}

// handleError 账本错误到 HTTP 状态码的映射
func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientCredits):
		response.InsufficientCredits(c, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrBusy):
		response.SystemBusy(c, service.ErrBusy.Error())
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("积分接口异常")
		response.StorageUnavailable(c, "积分服务暂不可用")
	}
}
