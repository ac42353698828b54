package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GenerateRequest is the body of POST /api/tasks/daily/generate. An empty
// date means today in the server's timezone.
type GenerateRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// SubmitRequest is the body of POST /api/tasks/{taskId}/submit
type SubmitRequest struct {
	Response string `json:"response" validate:"max=5000"`
}

// ActivityRequest is the body of POST /api/ledger/activity. The XP amount
// is fixed per source on the server.
type ActivityRequest struct {
	Source   string `json:"source" validate:"required,oneof=reading note"`
	SourceID string `json:"sourceId" validate:"required,max=64"`
}

// decodeAndValidate reads a JSON body into dst and runs its validation tags.
// An empty body decodes to the zero value.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", ErrInvalidJSON, err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New("invalid request: " + strings.Join(fields, ", "))
}
