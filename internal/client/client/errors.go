package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// statusError maps a non-2xx response to a sentinel. The body's kind wins;
// the status code is the fallback for proxies and other non-JSON replies.
func statusError(resp *http.Response) error {
	var body wire.ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &body)

	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: server returned %d", common.ErrNetwork, resp.StatusCode)
	}

	if sentinel := common.FromKind(body.Error.Kind); !errors.Is(sentinel, common.ErrorInternal) {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", common.ErrorUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrorForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, msg)
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", common.ErrorValidation, msg)
	default:
		return fmt.Errorf("%w: unexpected status %d: %s", common.ErrorInternal, resp.StatusCode, msg)
	}
}

// transportError classifies a failed round trip. Cancellation belongs to
// the caller and is not a network error.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", common.ErrNetwork, err)
}

// mapGRPCError converts health probe failures.
func mapGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}

	switch st.Code() {
	case codes.Unauthenticated:
		return common.ErrorUnauthorized
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, st.Message())
	default:
		return fmt.Errorf("%w: %s", common.ErrNetwork, st.Message())
	}
}
