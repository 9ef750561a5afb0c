package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

// multipart framing on top of the file itself
const uploadOverhead = 1 << 20

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// formFile caps the request body and returns the "file" part.
func formFile(c *gin.Context, limit int64) (*multipart.FileHeader, error) {
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+uploadOverhead)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: upload exceeds %s", appErr.ErrFileTooLarge, formatUploadLimit(limit))
		}
		return nil, fmt.Errorf("%w: file is required", appErr.ErrInvalid)
	}
	if limit > 0 && file.Size > limit {
		return nil, fmt.Errorf("%w: upload exceeds %s", appErr.ErrFileTooLarge, formatUploadLimit(limit))
	}
	return file, nil
}
