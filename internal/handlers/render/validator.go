package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/medpoint/loyalty/internal/models"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("loyalty_currency", validateLoyaltyCurrency)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// loyalty_currency accepts the two ledger currencies only
func validateLoyaltyCurrency(fl validator.FieldLevel) bool {
	return models.Currency(fl.Field().String()).Valid()
}
