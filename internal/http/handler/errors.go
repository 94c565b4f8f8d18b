package handler

import (
	"net/http"

	"github.com/retroplay/netplay-service/internal/apperr"
	"github.com/retroplay/netplay-service/internal/http/response"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthenticated:
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case apperr.KindOriginRejected:
		response.Error(w, r, http.StatusForbidden, "ORIGIN_REJECTED", err.Error())
	case apperr.KindForbidden:
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", err.Error())
	case apperr.KindNotFound:
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case apperr.KindConflict:
		response.Error(w, r, http.StatusConflict, "CONFLICT", err.Error())
	case apperr.KindQuotaExceeded:
		response.Error(w, r, http.StatusTooManyRequests, "QUOTA_EXCEEDED", err.Error())
	case apperr.KindUnavailable:
		response.Error(w, r, http.StatusGone, "SESSION_UNAVAILABLE", err.Error())
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
