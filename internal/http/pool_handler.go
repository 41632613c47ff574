package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	aggregator "github.com/hxuan190/token-aggregator/internal/aggregator"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/pools"
	"github.com/hxuan190/token-aggregator/internal/common"
	"github.com/hxuan190/token-aggregator/internal/domain"
	"github.com/hxuan190/token-aggregator/internal/http/httputil"
)

type PoolHandler struct {
	aggregatorSvc *aggregator.Service
}

func NewPoolHandler(aggregatorSvc *aggregator.Service) *PoolHandler {
	return &PoolHandler{aggregatorSvc: aggregatorSvc}
}

func (h *PoolHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("/list", h.listPools)
}

func (h *PoolHandler) Root() string {
	return "/pools"
}

// PoolListResponse contains one page of normalized pools
type PoolListResponse struct {
	// Pools ranked by locked USD, V2 reserves and concentrated liquidity as decimal strings
	Pools []pools.View `json:"pools"`

	Limit int `json:"limit" example:"100"`
	Skip  int `json:"skip" example:"0"`
}

// @Summary List pools
// @Description Lists pools across every configured indexer, normalized into one shape.
// @Description Supported pool types: V2, V3, V4 (hooks, dynamic fee), Algebra and Slipstream.
// @Description A pool of an unknown type fails the request instead of being guessed.
// @Tags pools
// @Produce json
// @Param chainId query string false "Comma separated chain ids" example("1,8453")
// @Param limit query int false "Number of pools, max 1000" default(100)
// @Param skip query int false "Number of pools to skip" default(0)
// @Success 200 {object} PoolListResponse
// @Failure 400 {object} httputil.Response "Invalid parameters"
// @Failure 500 {object} httputil.Response "Indexer unavailable or unknown pool type"
// @Router /api/v1/pools/list [get]
func (h *PoolHandler) listPools(c *gin.Context) {
	chainIDs, err := parseIntList(c.Query("chainId"))
	if err != nil {
		httputil.HandleError(c, common.HTTPErrorBadRequest("invalid chainId: "+c.Query("chainId")))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(aggregator.DefaultPoolLimit)))
	if err != nil {
		httputil.HandleError(c, common.HTTPErrorBadRequest("invalid limit"))
		return
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil {
		httputil.HandleError(c, common.HTTPErrorBadRequest("invalid skip"))
		return
	}

	views, err := h.aggregatorSvc.ListPools(c.Request.Context(), domain.PoolFetchParams{
		ChainIDs: chainIDs,
		Limit:    limit,
		Skip:     skip,
	})
	if err != nil {
		httputil.HandleError(c, toHTTPError(err))
		return
	}

	httputil.HandleSuccess(c, PoolListResponse{
		Pools: views,
		Limit: limit,
		Skip:  skip,
	})
}
