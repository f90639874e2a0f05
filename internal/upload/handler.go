package upload

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/imagehost/service/internal/response"
)

// ErrMissingFile is returned when a multipart body has no part carrying a filename.
var ErrMissingFile = fmt.Errorf("%w: no file found in multipart payload", ErrMalformedRequest)

// Handler holds HTTP handlers for the upload endpoints.
type Handler struct {
	svc      *Service
	maxBytes int64
}

// NewHandler creates a new upload Handler. Request bodies larger than maxBytes are rejected.
func NewHandler(svc *Service, maxBytes int64) *Handler {
	return &Handler{svc: svc, maxBytes: maxBytes}
}

// Upload godoc
//
//	@Summary		Upload a file
//	@Description	Uploads the first file part of a multipart body. Content already uploaded is answered from the local cache without contacting storage.
//	@Tags			uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to upload"
//	@Success		200		{object}	Result
//	@Failure		400		{object}	Result
//	@Failure		500		{object}	Result
//	@Failure		503		{object}	Result
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	part, err := readFilePart(r)
	if err != nil {
		response.JSON(w, http.StatusBadRequest, failed(err))
		return
	}

	res := h.svc.UploadWithType(r.Context(), part.data, part.filename, part.contentType)
	// The body is the Result itself, not an Envelope, so native and HTTP callers read the same shape.
	response.JSON(w, StatusCode(res), res)
}

// History godoc
//
//	@Summary		List recent uploads
//	@Description	Returns up to `limit` upload records, newest first.
//	@Tags			uploads
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum number of records"	default(100)
//	@Success		200		{object}	response.Envelope{data=[]Record}
//	@Failure		400		{object}	response.Envelope
//	@Failure		503		{object}	response.Envelope
//	@Router			/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.svc.History(r.Context(), limit)
	if errors.Is(err, ErrStoreUnavailable) {
		response.ServiceUnavailable(w, err.Error())
		return
	}
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, records)
}

// StatusCode maps a pipeline result onto an HTTP status.
func StatusCode(res Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case errors.Is(res.Err(), ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(res.Err(), ErrMalformedRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type filePart struct {
	filename    string
	contentType string
	data        []byte
}

// readFilePart returns the first multipart part that carries a filename.
func readFilePart(r *http.Request) (*filePart, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid multipart data: %v", ErrMalformedRequest, err)
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingFile
		}
		if err != nil {
			return nil, fmt.Errorf("%w: invalid multipart data: %v", ErrMalformedRequest, err)
		}

		if p.FileName() == "" {
			p.Close()
			continue
		}

		data, err := io.ReadAll(p)
		p.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrMalformedRequest, tooLarge.Limit)
			}
			return nil, fmt.Errorf("%w: failed to read upload data: %v", ErrMalformedRequest, err)
		}

		// An empty type falls back to extension inference in the pipeline.
		return &filePart{filename: p.FileName(), contentType: p.Header.Get("Content-Type"), data: data}, nil
	}
}
