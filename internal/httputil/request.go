package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// MaxRequestBody bounds JSON request bodies
const MaxRequestBody = 1 << 20

// ParseJSON decodes the request body into dest. Unknown fields are
// rejected so typos in field names surface as 400s.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBody)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
