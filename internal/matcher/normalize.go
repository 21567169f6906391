package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/atsguard/internal/digest"
)

// Identity is the part of a candidate used for duplicate detection.
// Email and Phone may be empty.
type Identity struct {
	FullName string
	Email    string
	Phone    string
}

var (
	namePrefixes = map[string]bool{"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true}
	nameSuffixes = map[string]bool{"jr": true, "sr": true, "ii": true, "iii": true, "iv": true}

	gmailDomains = map[string]bool{"gmail.com": true, "googlemail.com": true}
)

// fold applies compatibility normalization and full case folding.
// A cases.Caser is stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// NormalizeName case-folds a name, drops honorifics and generational
// suffixes, removes everything but letters, and joins the remaining words
// with single spaces.
//
//	"  Dr. Jane   O'Doe Jr. " -> "jane odoe"
func NormalizeName(name string) string {
	words := strings.Fields(fold(name))

	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		var b strings.Builder
		for _, r := range w {
			if unicode.IsLetter(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			cleaned = append(cleaned, b.String())
		}
	}

	if len(cleaned) > 1 && namePrefixes[cleaned[0]] {
		cleaned = cleaned[1:]
	}
	if len(cleaned) > 1 && nameSuffixes[cleaned[len(cleaned)-1]] {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return strings.Join(cleaned, " ")
}

// NormalizeEmail case-folds an address, strips +tag sub-addressing and
// ignores dots in Gmail local parts.
//
//	" Jane.Doe+jobs@GoogleMail.com" -> "janedoe@gmail.com"
func NormalizeEmail(email string) string {
	e := fold(email)
	at := strings.LastIndexByte(e, '@')
	if at <= 0 || at == len(e)-1 {
		return e
	}
	local, domain := e[:at], e[at+1:]

	if plus := strings.IndexByte(local, '+'); plus > 0 {
		local = local[:plus]
	}
	if gmailDomains[domain] {
		local = strings.ReplaceAll(local, ".", "")
		domain = "gmail.com"
	}
	return local + "@" + domain
}

// NormalizePhone keeps ASCII digits only, after folding full-width digits.
//
//	"+1 (555) 123-4567" -> "15551234567"
func NormalizePhone(phone string) string {
	p := norm.NFKC.String(phone)
	var b strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize applies the field normalizers.
func Normalize(id Identity) Identity {
	return Identity{
		FullName: NormalizeName(id.FullName),
		Email:    NormalizeEmail(id.Email),
		Phone:    NormalizePhone(id.Phone),
	}
}

// Fingerprint returns the deterministic identity hash of id. Casing,
// whitespace and punctuation variants of the same identity share a
// fingerprint.
func Fingerprint(id Identity) string {
	n := Normalize(id)
	return digest.HashWithDomain(digest.DomainFingerprint, []byte(n.FullName+"|"+n.Email+"|"+n.Phone))
}
