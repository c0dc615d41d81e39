package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/logistica/internal/core"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("dbname", func(fl validator.FieldLevel) bool {
		return core.ValidDatabaseName(fl.Field().String())
	})
	validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := core.NextRun(fl.Field().String(), time.Now())
		return err == nil
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// RequireID parses a positive numeric path id.
func RequireID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing required ID")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
