package api

import (
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/herbid/internal/domain/preprocess"
)

const (
	imageField      = "image"
	multipartMemory = 8 << 20
)

// readImage decodes the uploaded image from a multipart "image" field or,
// for any other content type, from the raw request body.
func readImage(w http.ResponseWriter, r *http.Request, limits UploadLimits) (image.Image, string, error) {
	if limits.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var src io.Reader = r.Body
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, "", uploadError(err)
		}
		f, _, err := r.FormFile(imageField)
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return nil, "", fmt.Errorf("%w: form field %q", ErrMissingFile, imageField)
			}
			return nil, "", uploadError(err)
		}
		defer f.Close()
		src = f
	}

	img, format, err := preprocess.DecodeLimit(src, limits.MaxPixels)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf("%w: limit %d bytes", ErrTooLarge, tooLarge.Limit)
		}
		return nil, "", err
	}
	return img, format, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit %d bytes", ErrTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

// parseLimit reads ?limit=; absent means max. Values above max are rejected.
func parseLimit(r *http.Request, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return maxLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
	}
	if maxLimit > 0 && n > maxLimit {
		return 0, fmt.Errorf("%w: limit exceeds %d", ErrBadRequest, maxLimit)
	}
	return n, nil
}
