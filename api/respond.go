package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"match-stats-server/matcherrors"
)

const maxBodyBytes = 1 << 16

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "tag", "api", "err", err)
	}
}

func statusFor(kind matcherrors.Kind) int {
	switch kind {
	case matcherrors.KindValidation:
		return http.StatusBadRequest
	case matcherrors.KindNotFound:
		return http.StatusNotFound
	case matcherrors.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps an error kind to a status. Internal failures are logged
// and their detail is not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := matcherrors.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "tag", "api", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
		if kind == "" {
			kind = "internal"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: string(kind)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return matcherrors.Validationf("request body is empty")
		}
		return matcherrors.Validationf("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, matcherrors.Validationf("%s must be an integer, got %q", name, raw)
	}
	return id, nil
}

// queryInt returns the named query parameter, or def when it is absent.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, matcherrors.Validationf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func pageParams(r *http.Request, defaultSize int) (page, size int, err error) {
	p, err := queryInt(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	s, err := queryInt(r, "pageSize", int64(defaultSize))
	if err != nil {
		return 0, 0, err
	}
	return int(p), int(s), nil
}
