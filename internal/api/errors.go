package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"

	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/extension"
)

// MediaType is the JSON:API media type.
const MediaType = "application/vnd.api+json"

// Error codes carried in the code member of error objects.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeUnsupported    = "unsupported_media_type"
)

// ErrorObject is a JSON:API error object.
type ErrorObject struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the request member an error is about.
type ErrorSource struct {
	Pointer string `json:"pointer"`
}

// ErrorDocument is the top-level document of an error response.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// writeJSON writes a plain JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeDocument writes a JSON:API document.
func writeDocument(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(doc)
}

func writeErrors(w http.ResponseWriter, status int, objects ...ErrorObject) {
	writeDocument(w, status, ErrorDocument{Errors: objects})
}

// writeError writes a single error object.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeErrors(w, status, ErrorObject{
		Status: strconv.Itoa(status),
		Code:   code,
		Title:  http.StatusText(status),
		Detail: detail,
	})
}

func writeNotFound(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, detail)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, detail)
}

func writeInternalError(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, detail)
}

// writeValidationError writes one error object with a source pointer.
func writeValidationError(w http.ResponseWriter, pointer, detail string) {
	status := http.StatusUnprocessableEntity
	writeErrors(w, status, ErrorObject{
		Status: strconv.Itoa(status),
		Code:   ErrCodeValidation,
		Title:  "Invalid attribute",
		Detail: detail,
		Source: &ErrorSource{Pointer: pointer},
	})
}

// writeHydrationErrors writes one error object per invalid attribute,
// ordered by pointer.
func writeHydrationErrors(w http.ResponseWriter, err error) {
	hydrationErrs := extension.HydrationErrors(err)
	if len(hydrationErrs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	}

	sort.Slice(hydrationErrs, func(i, j int) bool {
		return hydrationErrs[i].Pointer < hydrationErrs[j].Pointer
	})

	status := http.StatusUnprocessableEntity
	objects := make([]ErrorObject, 0, len(hydrationErrs))
	for _, he := range hydrationErrs {
		objects = append(objects, ErrorObject{
			Status: strconv.Itoa(status),
			Code:   ErrCodeValidation,
			Title:  "Invalid attribute",
			Detail: he.Detail,
			Source: &ErrorSource{Pointer: he.Pointer},
		})
	}
	writeErrors(w, status, objects...)
}

// entityErrorPointers maps device validation errors to the attribute they
// concern.
var entityErrorPointers = []struct {
	err     error
	pointer string
}{
	{device.ErrInvalidName, "/data/attributes/name"},
	{device.ErrInvalidAddress, "/data/attributes/address"},
	{device.ErrInvalidInterface, "/data/attributes/interface"},
	{device.ErrInvalidBaudRate, "/data/attributes/baud_rate"},
	{device.ErrInvalidProtocol, "/data/attributes/protocol"},
}

// writeEntityError writes the response of a failed registry write.
func writeEntityError(w http.ResponseWriter, err error) {
	for _, m := range entityErrorPointers {
		if errors.Is(err, m.err) {
			writeValidationError(w, m.pointer, err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, device.ErrConnectorNotFound), errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrPropertyNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, device.ErrConnectorExists), errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		writeInternalError(w, "storage error")
	}
}

// RequestDocument is the body of create and update requests.
type RequestDocument struct {
	Data *RequestResource `json:"data"`
}

// RequestResource is the primary data of a request. Attributes stay raw so
// the hydrator can report per-attribute errors.
type RequestResource struct {
	Type       string                     `json:"type"`
	ID         string                     `json:"id,omitempty"`
	Attributes map[string]json.RawMessage `json:"attributes"`
}

// decodeDocument reads a JSON:API request document. Plain application/json
// is accepted too. Failures are written to w and reported as false.
func decodeDocument(w http.ResponseWriter, r *http.Request) (*RequestResource, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, params, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != MediaType && mediaType != "application/json") {
			writeError(w, http.StatusUnsupportedMediaType, ErrCodeUnsupported, fmt.Sprintf("content type must be %s", MediaType))
			return nil, false
		}
		// Media type parameters are not allowed by JSON:API.
		if mediaType == MediaType && len(params) > 0 {
			writeError(w, http.StatusUnsupportedMediaType, ErrCodeUnsupported, "media type parameters are not allowed")
			return nil, false
		}
	}

	var doc RequestDocument
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "request body is empty")
		} else {
			writeBadRequest(w, "invalid JSON: "+err.Error())
		}
		return nil, false
	}
	if doc.Data == nil {
		writeValidationError(w, "/data", "primary data is required")
		return nil, false
	}
	if doc.Data.Type == "" {
		writeValidationError(w, "/data/type", "resource type is required")
		return nil, false
	}
	return doc.Data, true
}
