package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// fieldMessages maps struct field names to the message shown to the user.
var fieldMessages = map[string]string{
	"Principal":         "Minimum loan amount is 1000",
	"AnnualRatePercent": "Interest rate must be between 0% and 100%",
	"TenureMonths":      "Tenure must be between 1 and 60 months",
	"InstallmentDay":    "Installment day must be between 1 and 31",
	"Amount":            "Payment amount must be greater than 0",
	"Method":            "Payment method must be one of CASH, BANK, ONLINE, CHECK",
	"Name":              "Name is required and must be at most 100 characters",
	"Phone":             "Phone number must be at least 10 digits",
	"Email":             "Enter a valid email address",
	"Address":           "Address is required",
}

// tagMessages override fieldMessages for a single failing tag, keyed "Field.tag".
var tagMessages = map[string]string{
	"Amount.dscale": "Payment amount must be in whole currency units",
}

func newValidator() *validator.Validate {
	v := validator.New()

	// Decimals are validated through their exact string form.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	mustRegister(v, "dgt", decimalCompare(func(c int) bool { return c > 0 }))
	mustRegister(v, "dgte", decimalCompare(func(c int) bool { return c >= 0 }))
	mustRegister(v, "dlte", decimalCompare(func(c int) bool { return c <= 0 }))
	mustRegister(v, "dscale", decimalScale)
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		digits := 0
		for _, r := range fl.Field().String() {
			if unicode.IsDigit(r) {
				digits++
			}
		}
		return digits >= 10
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// decimalCompare builds a validation that compares the field against the tag
// parameter; ok receives the result of field.Cmp(param).
func decimalCompare(ok func(int) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return ok(value.Cmp(bound))
	}
}

// decimalScale accepts decimals with at most the tag parameter's number of
// fractional digits; trailing zeros do not count.
func decimalScale(fl validator.FieldLevel) bool {
	value, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	places, err := strconv.ParseInt(fl.Param(), 10, 32)
	if err != nil {
		return false
	}
	return value.Equal(value.Truncate(int32(places)))
}

// validateStruct runs the struct tags of s and converts the first failure into
// an *errs.ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate input: %w", err)
	}
	fe := fieldErrs[0]
	msg, ok := tagMessages[fe.Field()+"."+fe.Tag()]
	if !ok {
		msg, ok = fieldMessages[fe.Field()]
	}
	if !ok {
		msg = fmt.Sprintf("%s failed the %q check", fe.Field(), fe.Tag())
	}
	return errs.Validation(fe.Field(), msg)
}
