package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/tenancy"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, data any) {
	errs.WriteJSON(w, status, data)
}

type errorResponse struct {
	Error   string            `json:"error"`
	Kind    errs.Kind         `json:"kind"`
	Context map[string]string `json:"context,omitempty"`
}

// writeError maps err to a status code through its kind.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	resp := errorResponse{Error: err.Error(), Kind: kind}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Context = e.Context()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	return decodeBody(r, v, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, v any) error {
	return decodeBody(r, v, true)
}

func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if !errors.Is(err, io.EOF) {
			return errs.InvalidArgument("invalid request body: %v", err)
		}
		if !optional {
			return errs.InvalidArgument("request body is required")
		}
	}
	return check(v)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.InvalidArgument("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errs.InvalidArgument("invalid request: %s", strings.Join(msgs, "; "))
}

func projectID(r *http.Request) string {
	if id := tenancy.ProjectIDFromContext(r.Context()); id != "" {
		return id
	}
	return chi.URLParam(r, tenancy.ProjectParam)
}

func actor(r *http.Request) string {
	return tenancy.ActorFromContext(r.Context())
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errs.InvalidArgument("%s must be an integer", name)
	}
	return n, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, errs.InvalidArgument("%s must be an integer", name)
	}
	return n, nil
}
