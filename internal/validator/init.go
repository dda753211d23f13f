package validator

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// elapsedPattern matches the mm:ss clock used for puzzle completion times.
var elapsedPattern = regexp.MustCompile(`^[0-9]{2,}:[0-5][0-9]$`)

func init() {
	// Initialize validation
	validate = validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("elapsed", validateElapsed); err != nil {
		panic(fmt.Sprintf("validator: register elapsed: %v", err))
	}
}

func validateElapsed(fl validator.FieldLevel) bool {
	return elapsedPattern.MatchString(fl.Field().String())
}

func GetValidator() *validator.Validate {
	return validate
}
