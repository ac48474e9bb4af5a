package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ppiankov/surety/internal/common"
	"go.uber.org/zap"
)

// AppErrorHeader carries the error code of a failed call
const AppErrorHeader = "X-App-Error-Code"

// IdentityHeader names the calling principal. Authentication is left to the
// deployment's gateway.
const IdentityHeader = "X-Identity"

// JSONResponderF handles a request and returns a value to encode or an error
type JSONResponderF func(ctx context.Context, r *http.Request) (interface{}, error)

// ErrorBody is the JSON body of a failed call
type ErrorBody struct {
	Code  string `json:"code"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// StatusOf maps an error kind to an HTTP status
func StatusOf(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	switch common.KindOf(err) {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindConflict:
		return http.StatusConflict
	case common.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes data, or err as an ErrorBody
func Respond(w http.ResponseWriter, data interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		code := common.CodeOf(err)
		w.Header().Set(AppErrorHeader, code)
		w.WriteHeader(StatusOf(err))
		_ = json.NewEncoder(w).Encode(ErrorBody{
			Code:  code,
			Kind:  common.KindOf(err).String(),
			Error: err.Error(),
		})
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// ToJSONResponse adapts handler to a http.HandlerFunc, recovering panics
func ToJSONResponse(log *zap.Logger, handler JSONResponderF) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic handling request",
					zap.Any("error", rec),
					zap.String("remote address", r.RemoteAddr),
					zap.String("method", r.Method),
					zap.String("request uri", r.RequestURI))
				Respond(w, nil, common.NewError(common.KindInternal, common.ErrInternalCode, fmt.Sprint(rec)))
			}
		}()

		data, err := handler(r.Context(), r)
		if err != nil && common.KindOf(err) == common.KindInternal {
			log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		}
		Respond(w, data, err)
	}
}
