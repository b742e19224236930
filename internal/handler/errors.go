package handler

import (
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
)

const errorDomain = "procurement.pesio.ai"

func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidTransition, errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeStaleState:
		return http.StatusPreconditionFailed
	case errors.ErrCodeBlocked:
		return http.StatusLocked
	case errors.ErrCodeInvalidReassignment:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(code errors.Code) codes.Code {
	switch code {
	case errors.ErrCodeValidation, errors.ErrCodeInvalidReassignment:
		return codes.InvalidArgument
	case errors.ErrCodeUnauthorized:
		return codes.Unauthenticated
	case errors.ErrCodeForbidden:
		return codes.PermissionDenied
	case errors.ErrCodeNotFound:
		return codes.NotFound
	case errors.ErrCodeInvalidTransition, errors.ErrCodeBlocked:
		return codes.FailedPrecondition
	case errors.ErrCodeStaleState, errors.ErrCodeConflict:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// errorBody is the JSON error envelope. Internal failures never leak their cause.
type errorBody struct {
	Code    errors.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func toErrorBody(err error) errorBody {
	var appErr *errors.Error
	if !errors.As(err, &appErr) || appErr.Code == errors.ErrCodeInternal {
		return errorBody{Code: errors.ErrCodeInternal, Message: "internal error"}
	}
	return errorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
}

// toGRPCError converts err to a status carrying an ErrorInfo detail with the
// service code and details as metadata.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	body := toErrorBody(err)
	st := status.New(grpcCode(body.Code), body.Message)
	info := &errdetails.ErrorInfo{
		Reason:   string(body.Code),
		Domain:   errorDomain,
		Metadata: make(map[string]string, len(body.Details)),
	}
	for k, v := range body.Details {
		info.Metadata[k] = fmt.Sprint(v)
	}
	if withDetails, derr := st.WithDetails(info); derr == nil {
		st = withDetails
	}
	return st.Err()
}
