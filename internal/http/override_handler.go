package http

import (
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	aggregator "github.com/hxuan190/token-aggregator/internal/aggregator"
	"github.com/hxuan190/token-aggregator/internal/common"
	"github.com/hxuan190/token-aggregator/internal/domain"
	"github.com/hxuan190/token-aggregator/internal/http/httputil"
)

type OverrideHandler struct {
	aggregatorSvc *aggregator.Service
}

func NewOverrideHandler(aggregatorSvc *aggregator.Service) *OverrideHandler {
	return &OverrideHandler{aggregatorSvc: aggregatorSvc}
}

func (h *OverrideHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	admin.GET("", h.listOverrides)
	admin.PUT("/:tokenId", h.putOverride)
}

func (h *OverrideHandler) Root() string {
	return "/overrides"
}

// OverrideRequest sets the override of one token.
// partOf null removes the token from every group, a list forces it into the
// group of every listed token id, and listing the token itself isolates it.
type OverrideRequest struct {
	PartOf []string `json:"partOf" example:"1-0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"`
}

type OverrideResponse struct {
	TokenID string   `json:"tokenId" example:"8453-0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"`
	PartOf  []string `json:"partOf"`
}

// @Summary List overrides
// @Tags overrides
// @Produce json
// @Success 200 {object} map[string]domain.Override
// @Router /api/v1/admin/overrides [get]
func (h *OverrideHandler) listOverrides(c *gin.Context) {
	httputil.HandleSuccess(c, h.aggregatorSvc.GetOverrides())
}

// @Summary Set override
// @Description Upserts the override of a token. The change applies to pages requested after it.
// @Tags overrides
// @Accept json
// @Produce json
// @Param tokenId path string true "Token id {chainId}-{address}"
// @Param request body OverrideRequest true "Override"
// @Success 200 {object} OverrideResponse
// @Failure 400 {object} httputil.Response "Malformed token id or body"
// @Router /api/v1/admin/overrides/{tokenId} [put]
func (h *OverrideHandler) putOverride(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		httputil.HandleError(c, common.HTTPErrorBadRequest(err.Error()))
		return
	}
	// a missing partOf would silently become a discard
	var fields map[string]any
	if err := sonic.Unmarshal(body, &fields); err != nil {
		httputil.HandleError(c, common.HTTPErrorBadRequest("invalid body: "+err.Error()))
		return
	}
	if _, ok := fields["partOf"]; !ok {
		httputil.HandleError(c, common.HTTPErrorBadRequest("partOf is required"))
		return
	}
	var req OverrideRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		httputil.HandleError(c, common.HTTPErrorBadRequest("invalid body: "+err.Error()))
		return
	}

	tokenID, stored, err := h.aggregatorSvc.PutOverride(c.Param("tokenId"), domain.Override{PartOf: req.PartOf})
	if err != nil {
		httputil.HandleError(c, toHTTPError(err))
		return
	}

	httputil.HandleSuccess(c, OverrideResponse{
		TokenID: tokenID,
		PartOf:  stored.PartOf,
	})
}
