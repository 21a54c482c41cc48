package guard

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wisbric/vigil/internal/httpserver"
)

// respondGatewayError translates a gRPC error from the ML gateway into the
// HTTP error envelope, per the fixed code→status/code table.
func respondGatewayError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "ML_SERVICE_UNAVAILABLE", err.Error())
		return
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		httpserver.RespondError(w, http.StatusGatewayTimeout, "SCAN_TIMEOUT", st.Message())
	case codes.ResourceExhausted:
		httpserver.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED", st.Message())
	case codes.InvalidArgument:
		httpserver.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", st.Message())
	case codes.Unavailable:
		httpserver.RespondError(w, http.StatusServiceUnavailable, "ML_SERVICE_UNAVAILABLE", st.Message())
	default:
		httpserver.RespondError(w, http.StatusInternalServerError, "SCAN_FAILED", st.Message())
	}
}

var errEmptyBatch = errors.New("batch must contain at least one prompt")
var errBatchTooLarge = errors.New("batch exceeds maximum size")
