// Package handler provides HTTP handlers for the DMS API.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/middleware"
	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/user"
)

// base carries what every resource handler shares.
type base struct {
	logger zerolog.Logger
}

// fail writes err as a problem. Errors that surface as 5xx are logged
// with their cause, which the response never carries.
func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperror.KindOf(err)
	if kind == nil || errors.Is(kind, apperror.ErrUnavailable) {
		b.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	response.Err(w, r, err)
}

// actor returns the acting account. Routes are mounted behind Auth, so a
// missing user is a wiring bug and reads as an anonymous actor.
func actor(r *http.Request) user.Actor {
	if u := middleware.GetUser(r.Context()); u != nil {
		return u.Actor()
	}
	return user.Actor{}
}

// isManagement reports whether the acting account sees every record
// rather than only its own.
func isManagement(r *http.Request) bool {
	u := middleware.GetUser(r.Context())
	return u != nil && u.Role.IsManagement()
}

// listQuery holds the query parameters shared by list endpoints.
type listQuery struct {
	Page   int
	Size   int
	Search string
}

// parseListQuery reads page, page_size and search. On failure a 400 problem
// has already been written.
func parseListQuery(w http.ResponseWriter, r *http.Request) (listQuery, bool) {
	q := r.URL.Query()
	lq := listQuery{Search: q.Get("search")}

	var fieldErrs []models.FieldError
	var err error
	if lq.Page, err = intParam(q.Get("page")); err != nil || lq.Page < 0 {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "page", Message: "must be a positive integer"})
	}
	if lq.Size, err = intParam(q.Get("page_size")); err != nil || lq.Size < 0 {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "page_size", Message: "must be a positive integer"})
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return lq, false
	}
	return lq, true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// boolParam parses an optional boolean query parameter.
func boolParam(w http.ResponseWriter, r *http.Request, name string) (*bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		response.BadRequest(w, r, "invalid query parameters", []models.FieldError{
			{Field: name, Message: "must be true or false"},
		})
		return nil, false
	}
	return &v, true
}

func idParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
