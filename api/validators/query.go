package validators

import (
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
)

// ParseQueryDuration reads a Go duration ("500ms", "2s") from the query
// string, clamped to max.
func ParseQueryDuration(r *http.Request, key string, defaultVal, max time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be a duration").WithDetails(map[string]any{"field": key})
	}
	if max > 0 && value > max {
		value = max
	}
	return value, nil
}
