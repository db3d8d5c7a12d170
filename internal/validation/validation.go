// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct проверяет структуру по тегам validate и возвращает ошибку с первым нарушенным полем.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%s: failed on %s", strings.ToLower(verrs[0].Field()), verrs[0].Tag())
	}
	return err
}

// IsValidLink проверяет ссылку на продвигаемую страницу.
func IsValidLink(link string) bool {
	link = strings.TrimSpace(link)
	if link == "" || len(link) > 2048 {
		return false
	}
	return validate.Var(link, "url") == nil
}

// IsValidEmail проверяет адрес электронной почты.
func IsValidEmail(email string) bool {
	return validate.Var(strings.TrimSpace(email), "required,email,max=200") == nil
}
