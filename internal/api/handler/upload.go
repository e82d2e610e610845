package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	mw "github.com/cytomind/gateway/internal/api/middleware"
	"github.com/cytomind/gateway/internal/api/response"
	"github.com/cytomind/gateway/internal/inference"
	"github.com/cytomind/gateway/internal/jobs"
	"github.com/cytomind/gateway/internal/metrics"
	"github.com/cytomind/gateway/internal/upload"
)

const (
	// multipartMemory is how much of a form is held in memory before parts
	// spill to temporary files.
	multipartMemory = 32 << 20
	formOverhead    = 1 << 20
	defaultMaxFiles = 100
)

// UploadLimits bounds a single upload request.
type UploadLimits struct {
	MaxFileBytes int64
	MaxFiles     int
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/upload.
func NewUploadHandler(svc JobService, limits UploadLimits) http.HandlerFunc {
	validator := upload.Validator{MaxFileBytes: limits.MaxFileBytes}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = upload.MaxFileSize
	}
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = defaultMaxFiles
	}
	maxBody := int64(limits.MaxFiles)*limits.MaxFileBytes + formOverhead

	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			unauthorized(w)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			metrics.IncUpload("invalid")
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Upload exceeds the maximum request size", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		files := r.MultipartForm.File["images"]
		if len(files) == 0 {
			files = r.MultipartForm.File["image"]
		}
		if len(files) > limits.MaxFiles {
			metrics.IncUpload("invalid")
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("At most %d images may be uploaded at once", limits.MaxFiles), nil)
			return
		}

		accepted, rejected := validator.Partition(files)
		if len(rejected) > 0 {
			metrics.IncUpload("invalid")
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", upload.Reasons(rejected), rejected)
			return
		}

		result, err := svc.Submit(r.Context(), jobs.Submission{
			OwnerID:   ownerID,
			PatientID: r.FormValue("patientId"),
			Name:      r.FormValue("name"),
			Age:       r.FormValue("age"),
			Images:    toImages(accepted),
		})
		if err != nil {
			if errors.Is(err, jobs.ErrValidation) {
				metrics.IncUpload("invalid")
			}
			writeServiceError(w, r, err)
			return
		}

		response.JSON(w, result)
	}
}

func toImages(files []*multipart.FileHeader) []inference.Image {
	images := make([]inference.Image, len(files))
	for i, fh := range files {
		images[i] = inference.Image{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				f, err := fh.Open()
				if err != nil {
					return nil, err
				}
				return f, nil
			},
		}
	}
	return images
}
