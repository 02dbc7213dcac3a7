package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// descriptorMeta mirrors the subset of core.ModuleDescriptor that is
// meaningful to validate structurally: version must look semver-like and
// every tag must be a non-empty slug. This is the one place dispatch
// reaches for github.com/go-playground/validator/v10 rather than the
// schema.Validator seam — descriptor metadata is Go-shaped data the
// registry controls, not caller-supplied Record values, so struct-tag
// validation fits better than a JSON-Schema-shaped engine.
type descriptorMeta struct {
	Version string   `validate:"omitempty,semverish"`
	Tags    []string `validate:"dive,required,slug"`
}

var descriptorValidate = newDescriptorValidator()

func newDescriptorValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("semverish", validateSemverish)
	_ = v.RegisterValidation("slug", validateSlug)
	return v
}

// ValidateDescriptorMetadata checks version and tags for structural
// well-formedness, returning a Result in the same shape Validate does so
// callers (the registry's merge step, spec §4.2 step 8) handle both
// uniformly.
func ValidateDescriptorMetadata(version string, tags []string) Result {
	meta := descriptorMeta{Version: version, Tags: tags}
	err := descriptorValidate.Struct(meta)
	if err == nil {
		return Result{Valid: true}
	}

	res := Result{Valid: false}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		res.Errors = append(res.Errors, FieldError{Field: "metadata", Code: "invalid", Message: err.Error()})
		return res
	}
	for _, fe := range verrs {
		res.Errors = append(res.Errors, FieldError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()),
		})
	}
	return res
}

func validateSemverish(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	var major, minor, patch int
	var rest string
	n, _ := fmt.Sscanf(s, "%d.%d.%d%s", &major, &minor, &patch, &rest)
	return n >= 3
}

func validateSlug(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
