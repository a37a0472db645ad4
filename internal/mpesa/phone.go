package mpesa

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned for numbers that are not Kenyan mobile numbers.
var ErrInvalidPhone = errors.New("invalid kenyan mobile number")

// NormalizePhone converts 07XXXXXXXX, 01XXXXXXXX, +2547XXXXXXXX and
// 2547XXXXXXXX forms to the 254XXXXXXXXX form Daraja expects.
func NormalizePhone(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "254") && len(p) == 12:
	case strings.HasPrefix(p, "0") && len(p) == 10:
		p = "254" + p[1:]
	case (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")) && len(p) == 9:
		p = "254" + p
	default:
		return "", ErrInvalidPhone
	}

	if p[3] != '7' && p[3] != '1' {
		return "", ErrInvalidPhone
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return p, nil
}
