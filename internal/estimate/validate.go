package estimate

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// AcceptedMIMETypes lists the image types the estimation service is given.
// image/jpg is not a registered type but some browsers report it.
var AcceptedMIMETypes = []string{"image/png", "image/jpeg", "image/webp", "image/jpg"}

var postalCodeRegex = regexp.MustCompile(`^[0-9]{5}$`)

type imageRules struct {
	MIMEType string `validate:"oneof=image/png image/jpeg image/webp image/jpg"`
	Size     int64  `validate:"gt=0,lte=10485760"`
}

type postalCodeRules struct {
	PostalCode string `validate:"postalcode"`
}

// Validator checks submissions before they are allowed to reach the
// estimation service.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the postal code rule registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("postalcode", func(fl validator.FieldLevel) bool {
		return postalCodeRegex.MatchString(fl.Field().String())
	})
	return &Validator{validate: v}
}

// ValidateImage rejects images with an unsupported type, an empty body, or a
// size above MaxImageSize. The type is checked before the size.
func (v *Validator) ValidateImage(img Image) error {
	err := v.validate.Struct(imageRules{MIMEType: img.MIMEType, Size: img.Size})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Kind: KindInvalidInput, Reason: ReasonUnsupportedType, Message: MsgUnsupportedType, Err: err}
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "MIMEType":
		return invalidInput(ReasonUnsupportedType, MsgUnsupportedType)
	case fe.Tag() == "gt":
		return invalidInput(ReasonEmptyFile, MsgEmptyFile)
	default:
		return invalidInput(ReasonTooLarge, MsgTooLarge)
	}
}

// ValidatePostalCode accepts exactly five ASCII digits.
func (v *Validator) ValidatePostalCode(code string) error {
	if err := v.validate.Struct(postalCodeRules{PostalCode: code}); err != nil {
		return invalidInput(ReasonInvalidPostalCode, MsgInvalidPostalCode)
	}
	return nil
}

// Validate checks the image and then the postal code, returning the first
// failure.
func (v *Validator) Validate(sub Submission) error {
	if err := v.ValidateImage(sub.Image); err != nil {
		return err
	}
	return v.ValidatePostalCode(sub.PostalCode)
}
