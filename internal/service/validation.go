package service

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"contact-service/internal/models"
	"contact-service/internal/util"
)

const (
	MinMessageLength = 100
	DefaultLanguage  = "fr"
	honeypotField    = "website"
)

var requiredFields = []string{"name", "email", "message", "token"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseSubmission decodes and validates a raw form body. Checks run in a
// fixed order and the first failure is returned as a *ValidationError.
func ParseSubmission(body []byte) (models.Submission, error) {
	var input map[string]any
	if err := json.Unmarshal(body, &input); err != nil || len(input) == 0 {
		return models.Submission{}, invalid(ReasonInvalidJSON, "Données JSON invalides")
	}

	fields := make(map[string]string, len(requiredFields))
	for _, name := range requiredFields {
		v, ok := input[name]
		if !ok || isEmpty(v) {
			return models.Submission{}, invalid(ReasonMissingField, "Champ requis manquant: "+name)
		}
		s, ok := scalarString(v)
		if !ok {
			return models.Submission{}, invalid(ReasonInvalidJSON, "Données JSON invalides")
		}
		fields[name] = s
	}

	if !isEmpty(input[honeypotField]) {
		return models.Submission{}, invalid(ReasonHoneypot, "Spam détecté")
	}

	email := strings.TrimSpace(fields["email"])
	if err := validate.Var(email, "required,email"); err != nil {
		return models.Submission{}, invalid(ReasonInvalidEmail, "Adresse email invalide")
	}

	message := strings.TrimSpace(fields["message"])
	if err := validate.Var(message, "min="+strconv.Itoa(MinMessageLength)); err != nil {
		return models.Submission{}, invalid(ReasonMessageTooShort, "Le message doit contenir au moins 100 caractères")
	}

	language := DefaultLanguage
	if s, ok := input["language"].(string); ok && strings.TrimSpace(s) != "" {
		language = strings.TrimSpace(s)
	}

	return models.Submission{
		Name:     util.SanitizeInput(fields["name"]),
		Email:    email,
		Message:  message,
		Token:    fields["token"],
		Consent:  !isEmpty(input["consent"]),
		Language: language,
	}, nil
}

// isEmpty reports whether a decoded JSON value counts as "not provided":
// null, false, 0, "", "0" and empty arrays or objects.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "0"
	case bool:
		return !t
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		if t {
			return "1", true
		}
		return "", true
	default:
		return "", false
	}
}
