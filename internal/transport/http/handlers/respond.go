package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/pkg/validator"
)

// identityBody describes who "me" is in the conversation.
type identityBody struct {
	Subject string   `json:"subject"`
	Self    []string `json:"self"`
	Linked  string   `json:"linked,omitempty"`
}

func newIdentityBody(subjectID string, self domain.SelfIdentity) identityBody {
	linked, _ := self.Linked()
	return identityBody{Subject: subjectID, Self: self.IDs(), Linked: linked}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": errs,
		},
	})
}
