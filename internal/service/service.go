// Package service holds the business operations behind the HTTP handlers.
// Services own transactions; repositories run on whatever transaction the
// context carries.
package service

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

const tracerName = "github.com/kidoxdavid/eazyfoods-sub001/internal/service"

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs struct tags and reports the first failing field.
func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.Validation("Invalid value for " + fe.Field() + ".").With("field", fe.Field()).WithCode("invalid_" + fe.Tag())
		}
		return apperr.Validation("Invalid request.")
	}
	return nil
}

// classify passes classified errors through and hides everything else.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Internal(err, op)
}

// fulfillerOf returns the fulfiller identity of a vendor or chef principal.
func fulfillerOf(p models.Principal) (models.Fulfiller, error) {
	if !p.Is(models.KindVendor, models.KindChef) {
		return models.Fulfiller{}, apperr.Forbidden("Only vendors and chefs can do this.")
	}
	return models.Fulfiller{Kind: p.Kind, ID: p.ID}, nil
}

func requireKind(p models.Principal, kinds ...models.ActorKind) error {
	if !p.Is(kinds...) {
		return apperr.Forbidden("This action is not available to your account type.")
	}
	return nil
}

func requireCapability(p models.Principal, capability string) error {
	if !p.Can(capability) {
		return apperr.Forbidden("You do not have permission to do this.").With("capability", capability)
	}
	return nil
}
