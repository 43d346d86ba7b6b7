package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"useradmin/internal/apperr"
)

const contentTypeProtobuf = "application/x-protobuf"

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("writing response failed", "err", err)
	}
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writeAppError maps a domain error to its status and public message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed", "code", code, "err", err)
	}
	writeError(w, status, apperr.PublicMessage(err))
}

// decodeJSON reads a JSON body into v. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.InvalidArg("request body too large")
		}
		return apperr.InvalidArg("request body must be valid JSON")
	}
	return nil
}

// readPayload extracts a binary export from the request: raw bytes for a
// protobuf content type, otherwise a JSON object {"data": "<base64>"}.
func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == contentTypeProtobuf || mediaType == "application/octet-stream" {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return nil, apperr.InvalidArg("reading request body failed")
		}
		return payload, nil
	}
	var req struct {
		Data string `json:"data"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	if req.Data == "" {
		return nil, apperr.InvalidArg("data is required")
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Data))
	if err != nil {
		return nil, apperr.InvalidArg("data must be base64")
	}
	return payload, nil
}

// wantsBinary reports whether the client asked for raw protobuf.
func wantsBinary(r *http.Request) bool {
	if r.URL.Query().Get("format") == "binary" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), contentTypeProtobuf)
}
