package httpserver

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

const (
	maxQueryLen      = 4000
	maxCredentialLen = 512
)

var providerIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		_ = vld.RegisterValidation("providerid", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || providerIDRe.MatchString(strings.ToLower(s))
		})
		_ = vld.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || domain.ParseTier(s) != domain.TierUnknown
		})
	})
	return vld
}

// validationDetails flattens validator errors into field → tag.
func validationDetails(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			out[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return out
}

// ValidateProvider validates a provider id path parameter.
func ValidateProvider(id string) ValidationResult {
	if id == "" {
		return ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "provider", Code: "REQUIRED", Message: "Provider is required"}},
		}
	}
	if !providerIDRe.MatchString(strings.ToLower(id)) {
		return ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "provider", Code: "INVALID_FORMAT", Message: "Provider contains invalid characters"}},
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateCredentials checks the provider ids and key lengths of a credential map.
func ValidateCredentials(creds map[string]string) ValidationResult {
	var errs []ValidationError
	for p, k := range creds {
		if !providerIDRe.MatchString(strings.ToLower(p)) {
			errs = append(errs, ValidationError{Field: "credentials", Code: "INVALID_FORMAT", Message: "Credential provider id contains invalid characters"})
			continue
		}
		if len(k) > maxCredentialLen {
			errs = append(errs, ValidationError{Field: "credentials." + p, Code: "TOO_LONG", Message: "Credential is too long"})
		}
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true}
}

// SanitizeString sanitizes a string input
func SanitizeString(input string) string {
	// Remove null bytes and control characters
	input = strings.ReplaceAll(input, "\x00", "")

	input = strings.TrimSpace(input)

	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}

	if utf8.RuneCountInString(input) > maxQueryLen {
		input = string([]rune(input)[:maxQueryLen])
	}

	return input
}

// SanitizeCredentials lower-cases provider ids and drops blank keys.
func SanitizeCredentials(creds map[string]string) map[string]string {
	if len(creds) == 0 {
		return nil
	}
	out := make(map[string]string, len(creds))
	for p, k := range creds {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(p))] = k
	}
	return out
}
