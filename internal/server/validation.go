// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// requestValidator checks request bodies against their validate tags and
// the configured question length.
type requestValidator struct {
	v           *validator.Validate
	maxQuestion int
}

func newRequestValidator(maxQuestion int) *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &requestValidator{v: v, maxQuestion: maxQuestion}
}

func (rv *requestValidator) validate(req AskRequest) error {
	if err := rv.v.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if rv.maxQuestion > 0 {
		if err := rv.v.Var(req.Question, fmt.Sprintf("max=%d", rv.maxQuestion)); err != nil {
			return sigilerr.Errorf(sigilerr.CodeServerRequestInvalid,
				"question must be at most %d characters", rv.maxQuestion)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return sigilerr.Wrap(err, sigilerr.CodeServerRequestInvalid, "invalid request")
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "notblank":
			msgs = append(msgs, fe.Field()+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return sigilerr.New(sigilerr.CodeServerRequestInvalid, strings.Join(msgs, "; "))
}
