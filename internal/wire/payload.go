// Package wire defines the JSON shapes exchanged between the clinicvault
// client and server, including the bootstrap payload carried by the pairing
// code. Every inbound shape is validated before any field is trusted.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct-tag validation on v.
func Validate(v any) error {
	return validate.Struct(v)
}

// BootstrapPayload is the content of a pairing code:
//
//	{"doctor_id": "...", "key": base64(32 bytes), "key_id": "...", "pairing_token": "..."}
//
// key_id and pairing_token are optional extensions.
type BootstrapPayload struct {
	DoctorID     string `json:"doctor_id" validate:"required,max=128"`
	Key          string `json:"key" validate:"required,base64"`
	KeyID        string `json:"key_id,omitempty" validate:"omitempty,max=128"`
	PairingToken string `json:"pairing_token,omitempty" validate:"omitempty,base64url"`
}

// Encode renders the payload as the compact JSON text put into the code.
func (p *BootstrapPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// KeyMaterial decodes the embedded key. Callers must wipe the result.
func (p *BootstrapPayload) KeyMaterial() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not base64", common.ErrMalformedPayload)
	}
	if len(raw) != cryptox.KeySize {
		common.WipeByteArray(raw)
		return nil, fmt.Errorf("%w: key must be %d bytes", common.ErrMalformedPayload, cryptox.KeySize)
	}
	return raw, nil
}

// ParsePayload decodes and validates scanned text. Any failure is reported
// as common.ErrMalformedPayload.
func ParsePayload(text string) (*BootstrapPayload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty", common.ErrMalformedPayload)
	}

	var p BootstrapPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object", common.ErrMalformedPayload)
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Check validates an already decoded payload, e.g. one embedded in a
// request body. Failures are reported as common.ErrMalformedPayload.
func (p *BootstrapPayload) Check() error {
	if err := Validate(p); err != nil {
		return fmt.Errorf("%w: %s", common.ErrMalformedPayload, describe(err))
	}
	if strings.TrimSpace(p.DoctorID) == "" {
		return fmt.Errorf("%w: doctor_id is blank", common.ErrMalformedPayload)
	}

	raw, err := p.KeyMaterial()
	if err != nil {
		return err
	}
	common.WipeByteArray(raw)
	return nil
}

// describe names the failing fields without echoing their values.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return "invalid " + strings.Join(fields, ", ")
}

// SameIdentity compares two user ids ignoring case and surrounding space.
func SameIdentity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
