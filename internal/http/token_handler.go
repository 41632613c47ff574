package http

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	aggregator "github.com/hxuan190/token-aggregator/internal/aggregator"
	"github.com/hxuan190/token-aggregator/internal/aggregator/services/pagination"
	"github.com/hxuan190/token-aggregator/internal/common"
	"github.com/hxuan190/token-aggregator/internal/domain"
	"github.com/hxuan190/token-aggregator/internal/http/httputil"
)

const defaultPageLimit = 100

type TokenHandler struct {
	aggregatorSvc *aggregator.Service
}

func NewTokenHandler(aggregatorSvc *aggregator.Service) *TokenHandler {
	return &TokenHandler{aggregatorSvc: aggregatorSvc}
}

func (h *TokenHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("/multichain", h.getMultichainTokens)
	pub.GET("/stats", h.getStats)
}

func (h *TokenHandler) Root() string {
	return "/tokens"
}

// MultichainTokensRequest is the query of a multichain token page
type MultichainTokensRequest struct {
	// Number of multichain tokens per page, 1 to 500
	Limit string `form:"limit" example:"100"`

	// Ordering metric: TVL (summed pooled USD), VOLUME or PRICE (anchor price)
	OrderBy string `form:"orderBy" enums:"TVL,VOLUME,PRICE" example:"TVL"`

	OrderDirection string `form:"orderDirection" enums:"ASC,DESC" example:"DESC"`

	// Opaque cursor returned as nextCursor by the previous page
	Cursor string `form:"cursor"`

	// Allow several tokens of the same chain in one group
	MatchAllSymbols string `form:"matchAllSymbols" example:"false"`

	// Comma separated chain allowlist
	ChainIDs string `form:"chainIds" example:"1,8453"`

	MinTvlUsd    string `form:"minTvlUsd" example:"10000"`
	MinVolumeUsd string `form:"minVolumeUsd" example:"0"`

	// Substring match on name or symbol
	Search string `form:"search" example:"usd"`

	// Comma separated normalized symbols
	Symbols string `form:"symbols" example:"USDC,WETH"`
}

// MultichainTokensResponse is one page of multichain tokens
type MultichainTokensResponse struct {
	Tokens []domain.MultichainToken `json:"tokens"`

	// Cursor of the next page, null once every token has been returned
	NextCursor *string `json:"nextCursor"`
}

// @Summary List multichain tokens
// @Description Groups single-chain tokens sharing a symbol and a price into multichain tokens,
// @Description corrected by the override table, and pages through them in the requested order.
// @Description
// @Description **Pagination:**
// @Description - Pass the returned nextCursor as cursor to fetch the next page
// @Description - nextCursor is null once every token has been returned
// @Description - A token never appears on two pages of the same walk
// @Tags tokens
// @Produce json
// @Param limit query int false "Page size, 1 to 500" default(100)
// @Param orderBy query string false "Ordering metric" Enums(TVL, VOLUME, PRICE) default(TVL)
// @Param orderDirection query string false "Ordering direction" Enums(ASC, DESC) default(DESC)
// @Param cursor query string false "Cursor returned by the previous page"
// @Param matchAllSymbols query bool false "Allow several tokens of one chain per group" default(false)
// @Param chainIds query string false "Comma separated chain ids" example("1,8453")
// @Param minTvlUsd query number false "Minimum pooled USD per token"
// @Param minVolumeUsd query number false "Minimum volume USD per token"
// @Param search query string false "Substring match on name or symbol"
// @Param symbols query string false "Comma separated normalized symbols"
// @Success 200 {object} MultichainTokensResponse "One page of multichain tokens"
// @Failure 400 {object} httputil.Response "Invalid limit, order or cursor"
// @Failure 500 {object} httputil.Response "Token source unavailable"
// @Router /api/v1/tokens/multichain [get]
func (h *TokenHandler) getMultichainTokens(c *gin.Context) {
	var q MultichainTokensRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		httputil.HandleError(c, common.HTTPErrorBadRequest(err.Error()))
		return
	}

	req, err := q.toPageRequest()
	if err != nil {
		httputil.HandleError(c, err)
		return
	}

	page, err := h.aggregatorSvc.GetMultichainTokenPage(c.Request.Context(), req)
	if err != nil {
		httputil.HandleError(c, toHTTPError(err))
		return
	}

	httputil.HandleSuccess(c, MultichainTokensResponse{
		Tokens:     page.Tokens,
		NextCursor: page.NextCursor,
	})
}

func (q *MultichainTokensRequest) toPageRequest() (pagination.Request, error) {
	req := pagination.Request{Limit: defaultPageLimit, Cursor: q.Cursor}
	var err error

	if q.Limit != "" {
		if req.Limit, err = strconv.Atoi(q.Limit); err != nil {
			return req, common.HTTPErrorBadRequest("invalid limit: " + q.Limit)
		}
	}
	if req.Order.Field, err = domain.ParseOrderField(q.OrderBy); err != nil {
		return req, common.HTTPErrorBadRequest(err.Error())
	}
	if req.Order.Direction, err = domain.ParseOrderDirection(q.OrderDirection); err != nil {
		return req, common.HTTPErrorBadRequest(err.Error())
	}
	if q.MatchAllSymbols != "" {
		if req.MatchAllSymbols, err = strconv.ParseBool(q.MatchAllSymbols); err != nil {
			return req, common.HTTPErrorBadRequest("invalid matchAllSymbols: " + q.MatchAllSymbols)
		}
	}
	if req.Filter.ChainIDs, err = parseIntList(q.ChainIDs); err != nil {
		return req, common.HTTPErrorBadRequest("invalid chainIds: " + q.ChainIDs)
	}
	if req.Filter.MinTotalValuePooledUSD, err = parseNonNegative(q.MinTvlUsd); err != nil {
		return req, common.HTTPErrorBadRequest("invalid minTvlUsd: " + q.MinTvlUsd)
	}
	if req.Filter.MinVolumeUSD, err = parseNonNegative(q.MinVolumeUsd); err != nil {
		return req, common.HTTPErrorBadRequest("invalid minVolumeUsd: " + q.MinVolumeUsd)
	}
	req.Filter.Search = strings.TrimSpace(q.Search)
	req.Filter.Symbols = parseStringList(q.Symbols)
	return req, nil
}

// @Summary Token serving statistics
// @Description Pages served since start and HyperLogLog estimates of the distinct tokens and groups served
// @Tags tokens
// @Produce json
// @Success 200 {object} aggregator.Stats
// @Router /api/v1/tokens/stats [get]
func (h *TokenHandler) getStats(c *gin.Context) {
	httputil.HandleSuccess(c, h.aggregatorSvc.Stats())
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, part := range parseStringList(raw) {
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 {
			return nil, strconv.ErrSyntax
		}
		out = append(out, v)
	}
	return out, nil
}

func parseStringList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseNonNegative(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}
