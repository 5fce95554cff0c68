package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/Willytecheira/nexus-wa-core-sub000/internal/errors"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/httputil"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs anything that will surface as a 5xx before writing it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFromCode(apperrors.GetCode(err)) >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	httputil.WriteError(w, err)
}

// decodeJSON rejects unknown fields so typos in operator requests surface.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.ValidationError("Request body is required")
		}
		return apperrors.ValidationError("Invalid request body").WithCause(err)
	}
	return nil
}

type sessionView struct {
	model.Session
	UptimeSeconds            int64 `json:"uptimeSeconds"`
	SecondsSinceLastActivity int64 `json:"secondsSinceLastActivity"`
	HasQR                    bool  `json:"hasQr"`
}

func newSessionView(sess model.Session, hasQR bool, now time.Time) sessionView {
	return sessionView{
		Session:                  sess,
		UptimeSeconds:            sess.UptimeSeconds(now),
		SecondsSinceLastActivity: sess.SecondsSinceLastActivity(now),
		HasQR:                    hasQR,
	}
}
