// Package identity derives pseudonymous participant ids from questionnaire answers.
//
// The id is re-derivable by the participant from memory of their answers. It is
// an obfuscation scheme, not a credential, and two participants can collide.
package identity

import (
	"strconv"
	"strings"

	"github.com/okian/kickrate/internal/domain/model"
)

// Unknown is returned when either parent's initials are missing.
const Unknown = "unknown"

// Derive computes the participant id:
//
//	mother[0:2] + father[0:2] + (day+month) + crossSum(|year|)*(siblings+1)
//
// Numbers are written in decimal without separators. Day and month are summed
// without calendar validation. Ids issued earlier depend on this exact layout.
func Derive(p model.Profile) string {
	mother, father := p.MotherInitials(), p.FatherInitials()
	if mother == "" || father == "" {
		return Unknown
	}

	dateComponent := p.BirthDay() + p.BirthMonth()
	siblingFactor := CrossSum(p.BirthYear()) * (p.Siblings() + 1)

	var b strings.Builder
	b.WriteString(mother)
	b.WriteString(father)
	b.WriteString(strconv.Itoa(dateComponent))
	b.WriteString(strconv.Itoa(siblingFactor))
	return b.String()
}

// CrossSum returns the sum of the decimal digits of |n|.
func CrossSum(n int) int {
	u := uint64(n)
	if n < 0 {
		u = uint64(-(n + 1)) + 1
	}
	sum := 0
	for u > 0 {
		sum += int(u % 10)
		u /= 10
	}
	return sum
}

// Normalize prepares a manually entered id for lookup.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
