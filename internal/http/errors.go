package http

import (
	"errors"

	aggregator "github.com/hxuan190/token-aggregator/internal/aggregator"
	"github.com/hxuan190/token-aggregator/internal/common"
)

// toHTTPError maps aggregator errors onto the HTTP error taxonomy. Upstream
// details stay in the logs.
func toHTTPError(err error) *common.HttpError {
	var httpErr *common.HttpError
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, aggregator.ErrInvalidCursor),
		errors.Is(err, aggregator.ErrInvalidLimit),
		errors.Is(err, aggregator.ErrInvalidOverride),
		errors.Is(err, aggregator.ErrInvalidPoolList):
		return common.HTTPErrorBadRequest(err.Error())
	case errors.Is(err, aggregator.ErrSourceUnavailable):
		return common.HTTPErrorInternalError("token source unavailable")
	case errors.Is(err, aggregator.ErrUnknownPoolType):
		return common.HTTPErrorInternalError(err.Error())
	default:
		return common.HTTPErrorInternalError("")
	}
}
