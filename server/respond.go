package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/xero"
	"github.com/rs/zerolog/log"
)

// maxBody bounds request bodies
const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("json encoding error")
	}
}

// writeError logs err and writes its {kind, message} body
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierror.KindOf(err)
	status := apierror.Status(kind)
	ev := log.Info()
	if status >= 500 {
		ev = log.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Str("kind", string(kind)).Msg("request failed")
	apierror.WriteJSON(w, err)
}

// decodeJSON reads a json body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return apierror.New(apierror.InvalidInput, "request body is empty")
	default:
		return apierror.Wrap(apierror.InvalidInput, err, "request body is not valid json")
	}
}

// wantsJSON reports whether the client asked for json rather than a
// redirect
func wantsJSON(r *http.Request) bool {
	return r.URL.Query().Get("format") == "json" ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

// isJSON reports whether the request body is json
func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// connection resolves the Xero connection of the request's session
func (s *Server) connection(r *http.Request) (xero.Conn, error) {
	id, ok := s.cookies.ID(r)
	if !ok {
		return xero.Conn{}, apierror.New(apierror.Unauthenticated, "no session, connect to xero first")
	}
	return s.sessions.Connection(r.Context(), id)
}

// sessionID returns the id of the request's session, starting a new one
// if the request has none or its session has expired
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := s.cookies.ID(r); ok {
		if _, err := s.sessions.Get(r.Context(), id); err == nil {
			return id, nil
		}
	}
	sess, err := s.sessions.Start(r.Context())
	if err != nil {
		return "", err
	}
	s.cookies.Set(w, sess.ID)
	return sess.ID, nil
}
