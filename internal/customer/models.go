// Package customer holds the thin customer boundary the Link Issuer binds
// tokens to. Directory browsing and outbound notification delivery live in
// an external collaborator; this package only stores the reference record.
package customer

import (
	"regexp"
	"strings"
	"time"

	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
)

// Customer is the party undergoing verification.
type Customer struct {
	ID        domain.CustomerID
	Name      string
	Mobile    string
	Email     string
	CreatedAt time.Time
}

var nonDigits = regexp.MustCompile(`[^\d]`)

// NormalizeMobile strips formatting and the optional 91 country prefix,
// returning a bare 10-digit Indian mobile number.
func NormalizeMobile(raw string) (string, error) {
	mobile := nonDigits.ReplaceAllString(raw, "")
	if len(mobile) == 12 && strings.HasPrefix(mobile, "91") {
		mobile = mobile[2:]
	}
	if len(mobile) != 10 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "mobile number must be 10 digits")
	}
	return mobile, nil
}
