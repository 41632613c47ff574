// Package indexer implements token record sources backed by per-chain
// GraphQL indexers.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/hxuan190/token-aggregator/internal/domain"
	"github.com/hxuan190/token-aggregator/internal/metrics"
)

var ErrIndexerResponse = errors.New("indexer response error")

const (
	topTokensQuery = `
		query TopTokens($first: Int!, $skip: Int!, $orderBy: Token_orderBy!, $orderDirection: OrderDirection!, $where: Token_filter) {
			tokens(first: $first, skip: $skip, orderBy: $orderBy, orderDirection: $orderDirection, where: $where) {
				id
				address
				symbol
				normalizedSymbol
				name
				normalizedName
				decimals
				trackedUsdPrice
				trackedTotalValuePooledUsd
				trackedVolumeUsd
			}
		}
	`

	topPoolsQuery = `
		query TopPools($first: Int!, $skip: Int!) {
			pools(first: $first, skip: $skip, orderBy: totalValueLockedUsd, orderDirection: desc) {
				id
				address
				type
				token0 { id symbol }
				token1 { id symbol }
				fee
				tickSpacing
				tick
				hooks
				reserve0
				reserve1
				liquidity
				sqrtPrice
				totalValueLockedUsd
				volumeUsd
			}
		}
	`
)

// maxPageSize is the largest "first" most graph indexers accept.
const maxPageSize = 1000

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// flexFloat accepts both JSON numbers and the quoted decimals BigDecimal
// fields are usually rendered as.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts numbers and strings, rendering both as a string.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString(strings.Trim(string(b), `"`))
	if *s == "null" {
		*s = ""
	}
	return nil
}

type graphToken struct {
	ID                         string    `json:"id"`
	Address                    string    `json:"address"`
	Symbol                     string    `json:"symbol"`
	NormalizedSymbol           string    `json:"normalizedSymbol"`
	Name                       string    `json:"name"`
	NormalizedName             string    `json:"normalizedName"`
	Decimals                   flexFloat `json:"decimals"`
	TrackedUSDPrice            flexFloat `json:"trackedUsdPrice"`
	TrackedTotalValuePooledUSD flexFloat `json:"trackedTotalValuePooledUsd"`
	TrackedVolumeUSD           flexFloat `json:"trackedVolumeUsd"`
}

type graphPoolToken struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

type graphPool struct {
	ID                  string         `json:"id"`
	Address             string         `json:"address"`
	Type                string         `json:"type"`
	Token0              graphPoolToken `json:"token0"`
	Token1              graphPoolToken `json:"token1"`
	Fee                 flexString     `json:"fee"`
	TickSpacing         flexString     `json:"tickSpacing"`
	Tick                flexString     `json:"tick"`
	Hooks               string         `json:"hooks"`
	Reserve0            flexString     `json:"reserve0"`
	Reserve1            flexString     `json:"reserve1"`
	Liquidity           flexString     `json:"liquidity"`
	SqrtPrice           flexString     `json:"sqrtPrice"`
	TotalValueLockedUSD flexFloat      `json:"totalValueLockedUsd"`
	VolumeUSD           flexFloat      `json:"volumeUsd"`
}

type tokensData struct {
	Tokens []graphToken `json:"tokens"`
}

type poolsData struct {
	Pools []graphPool `json:"pools"`
}

// Client queries one chain's indexer.
type Client struct {
	chainID    int
	endpoint   string
	httpClient *http.Client
}

func NewClient(chainID int, endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		chainID:  chainID,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (c *Client) ChainID() int {
	return c.chainID
}

// FetchTopTokens pages through the indexer in chunks of maxPageSize until
// params.Limit records are collected or the indexer runs dry.
func (c *Client) FetchTopTokens(ctx context.Context, params domain.FetchParams) ([]domain.TokenRecord, error) {
	if !params.Filter.AllowsChain(c.chainID) {
		return []domain.TokenRecord{}, nil
	}
	where, ok := tokenWhere(c.chainID, params)
	if !ok {
		return []domain.TokenRecord{}, nil
	}

	order := params.Order
	if order.Field == "" {
		order = domain.DefaultTokenOrder
	}

	out := make([]domain.TokenRecord, 0, max(params.Limit, 0))
	skip := params.Skip
	for params.Limit <= 0 || len(out) < params.Limit {
		first := maxPageSize
		if params.Limit > 0 {
			first = min(first, params.Limit-len(out))
		}

		data, err := query[tokensData](ctx, c, topTokensQuery, map[string]any{
			"first":          first,
			"skip":           skip,
			"orderBy":        orderByField(order.Field),
			"orderDirection": strings.ToLower(string(order.Direction)),
			"where":          where,
		})
		if err != nil {
			return nil, err
		}

		for _, t := range data.Tokens {
			out = append(out, c.toRecord(t))
		}
		if len(data.Tokens) < first {
			break
		}
		skip += len(data.Tokens)
	}
	return out, nil
}

func (c *Client) FetchPools(ctx context.Context, params domain.PoolFetchParams) ([]domain.RawPool, error) {
	if len(params.ChainIDs) > 0 && !containsInt(params.ChainIDs, c.chainID) {
		return []domain.RawPool{}, nil
	}

	first := params.Limit
	if first <= 0 || first > maxPageSize {
		first = maxPageSize
	}

	data, err := query[poolsData](ctx, c, topPoolsQuery, map[string]any{"first": first, "skip": max(params.Skip, 0)})
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawPool, 0, len(data.Pools))
	for _, p := range data.Pools {
		out = append(out, domain.RawPool{
			ID:                  p.ID,
			ChainID:             c.chainID,
			Address:             firstNonEmpty(p.Address, p.ID),
			Type:                p.Type,
			Token0:              p.Token0.ID,
			Token1:              p.Token1.ID,
			Token0Symbol:        p.Token0.Symbol,
			Token1Symbol:        p.Token1.Symbol,
			Fee:                 string(p.Fee),
			TickSpacing:         optionalInt32(p.TickSpacing),
			Tick:                optionalInt32(p.Tick),
			Hooks:               p.Hooks,
			Reserve0:            string(p.Reserve0),
			Reserve1:            string(p.Reserve1),
			Liquidity:           string(p.Liquidity),
			SqrtPrice:           string(p.SqrtPrice),
			TotalValueLockedUSD: float64(p.TotalValueLockedUSD),
			VolumeUSD:           float64(p.VolumeUSD),
		})
	}
	return out, nil
}

func (c *Client) toRecord(t graphToken) domain.TokenRecord {
	r := domain.TokenRecord{
		ChainID:                    c.chainID,
		Address:                    firstNonEmpty(t.Address, t.ID),
		Symbol:                     t.Symbol,
		NormalizedSymbol:           t.NormalizedSymbol,
		Name:                       t.Name,
		NormalizedName:             t.NormalizedName,
		Decimals:                   int(t.Decimals),
		TrackedUSDPrice:            float64(t.TrackedUSDPrice),
		TrackedTotalValuePooledUSD: float64(t.TrackedTotalValuePooledUSD),
		TrackedVolumeUSD:           float64(t.TrackedVolumeUSD),
	}
	if r.NormalizedSymbol == "" {
		r.NormalizedSymbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	}
	return r.Canonical()
}

// query posts a GraphQL request and decodes its data member.
func query[T any](ctx context.Context, c *Client, q string, variables map[string]any) (T, error) {
	var zero T
	body, err := c.post(ctx, q, variables)
	if err != nil {
		return zero, err
	}

	var envelope graphQLResponse[T]
	if err := sonic.Unmarshal(body, &envelope); err != nil {
		return zero, fmt.Errorf("%w: chain %d: decode: %v", ErrIndexerResponse, c.chainID, err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return zero, fmt.Errorf("%w: chain %d: %s", ErrIndexerResponse, c.chainID, strings.Join(msgs, "; "))
	}
	return envelope.Data, nil
}

func (c *Client) post(ctx context.Context, q string, variables map[string]any) (respBody []byte, err error) {
	chain := strconv.Itoa(c.chainID)
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.SourceRequests.WithLabelValues(chain, status).Inc()
		metrics.SourceDuration.WithLabelValues(chain).Observe(time.Since(start).Seconds())
	}()

	body, err := sonic.Marshal(graphQLRequest{Query: q, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain %d: http request: %w", c.chainID, err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chain %d: read response: %w", c.chainID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: chain %d: http status %d: %s", ErrIndexerResponse, c.chainID, resp.StatusCode, truncate(respBody, 256))
	}
	return respBody, nil
}

// tokenWhere builds the where clause for chainID. It reports false when the
// restrictions cannot match anything on this chain.
func tokenWhere(chainID int, params domain.FetchParams) (map[string]any, bool) {
	where := map[string]any{}
	if params.Filter.MinTotalValuePooledUSD > 0 {
		where["trackedTotalValuePooledUsd_gte"] = strconv.FormatFloat(params.Filter.MinTotalValuePooledUSD, 'f', -1, 64)
	}
	if params.Filter.MinVolumeUSD > 0 {
		where["trackedVolumeUsd_gte"] = strconv.FormatFloat(params.Filter.MinVolumeUSD, 'f', -1, 64)
	}

	symbols := params.Symbols
	if len(params.Filter.Symbols) > 0 {
		if len(symbols) == 0 {
			symbols = params.Filter.Symbols
		} else {
			symbols = intersect(symbols, params.Filter.Symbols)
			if len(symbols) == 0 {
				return nil, false
			}
		}
	}
	if len(symbols) > 0 {
		where["normalizedSymbol_in"] = symbols
	}

	if len(params.IDs) > 0 {
		addresses := chainAddresses(chainID, params.IDs)
		if len(addresses) == 0 {
			return nil, false
		}
		where["id_in"] = addresses
	}
	if params.Filter.Search != "" {
		where["or"] = []map[string]any{
			{"symbol_contains_nocase": params.Filter.Search},
			{"name_contains_nocase": params.Filter.Search},
		}
	}
	return where, true
}

// chainAddresses keeps the ids of chainID and strips them to the address,
// which is the indexer's entity id.
func chainAddresses(chainID int, ids []string) []string {
	prefix := strconv.Itoa(chainID) + "-"
	var out []string
	for _, id := range ids {
		if address, ok := strings.CutPrefix(id, prefix); ok && address != "" {
			out = append(out, strings.ToLower(address))
		}
	}
	return out
}

func orderByField(field domain.OrderField) string {
	switch field {
	case domain.OrderFieldVolume:
		return "trackedVolumeUsd"
	case domain.OrderFieldPrice:
		return "trackedUsdPrice"
	default:
		return "trackedTotalValuePooledUsd"
	}
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// optionalInt32 is nil for absent or non-integer values.
func optionalInt32(s flexString) *int32 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(string(s), 10, 32)
	if err != nil {
		return nil
	}
	out := int32(v)
	return &out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
