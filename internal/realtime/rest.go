package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/schema"

	"livesync/internal/query"
	"livesync/pkg/model"
)

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// queryParams are the URL parameters of a one-shot query. Where is a JSON
// object of equality filters.
type queryParams struct {
	Where   string `schema:"where"`
	Select  string `schema:"select"`
	Sort    string `schema:"sort"`
	Skip    int    `schema:"skip"`
	Limit   int    `schema:"limit"`
	Count   bool   `schema:"count"`
	FindOne bool   `schema:"findOne"`
}

func (p queryParams) descriptor() (query.Descriptor, error) {
	desc := query.Descriptor{
		Skip:    p.Skip,
		Limit:   p.Limit,
		Count:   p.Count,
		FindOne: p.FindOne,
	}
	if p.Select != "" {
		desc.Select = p.Select
	}
	if p.Sort != "" {
		desc.Sort = p.Sort
	}
	if p.Where != "" {
		if err := json.Unmarshal([]byte(p.Where), &desc.Where); err != nil {
			return desc, model.Validationf("where must be a JSON object: %v", err)
		}
	}
	return desc, nil
}

// HandleQuery runs a one-shot query against the collection in the path.
func (s *Server) HandleQuery(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	if _, ok := s.endpoints[name]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}

	caller, err := s.auth.Authenticate(bearerToken(r))
	if err != nil {
		writeModelError(w, permissionDenied(err))
		return
	}

	var params queryParams
	if err := queryDecoder.Decode(&params, r.URL.Query()); err != nil {
		writeModelError(w, model.Validationf("invalid query parameters: %v", err))
		return
	}
	desc, err := params.descriptor()
	if err != nil {
		writeModelError(w, err)
		return
	}

	result, err := s.engine.Query(r.Context(), caller, name, desc)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeModelError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), model.ErrorCode(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidSubscription):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrStoreFailure):
		return http.StatusServiceUnavailable
	case model.IsCanceled(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
