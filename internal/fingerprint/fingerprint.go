// Package fingerprint turns untrusted remote strings into safe file names
// and computes stable content hashes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLength is the name length used when Sanitize is given a
// non-positive limit.
const DefaultMaxLength = 200

// minLength is the shortest limit that still fits a truncation suffix.
const minLength = 10

// maxBytes bounds the encoded length independently of the rune limit; most
// filesystems cap a path component at 255 bytes.
const maxBytes = 240

// Placeholder replaces names that sanitize to nothing.
const Placeholder = "unnamed"

var reserved = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

func forbidden(r rune) bool {
	switch r {
	case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
		return true
	}
	return r < 0x20 || r == 0x7f
}

// Sanitize returns a file name derived from raw that is valid on Linux,
// macOS and Windows.
//
// The result is never empty, never a reserved device name, and is at most
// maxLen runes (minimum 10) and 240 bytes. Sanitize is idempotent.
func Sanitize(raw string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	maxLen = max(maxLen, minLength)

	s := norm.NFC.String(raw)
	var b strings.Builder
	b.Grow(len(s))
	lastDash := false
	for _, r := range s {
		if r == utf8.RuneError || forbidden(r) {
			r = '-'
		}
		if r == '-' {
			if lastDash {
				continue
			}
			lastDash = true
		} else {
			lastDash = false
		}
		b.WriteRune(r)
	}
	s = strings.TrimFunc(b.String(), func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '-'
	})
	if s == "" {
		return Placeholder
	}
	if isReserved(s) {
		s = "_" + s
	}
	if utf8.RuneCountInString(s) <= maxLen && len(s) <= maxBytes {
		return s
	}
	// Keep room for "_" and 8 hex digits.
	end, n := 0, 0
	for i, r := range s {
		if n == maxLen-9 || i+utf8.RuneLen(r) > maxBytes-9 {
			break
		}
		end = i + utf8.RuneLen(r)
		n++
	}
	head := strings.TrimRightFunc(s[:end], unicode.IsSpace)
	return head + "_" + ShortHash(s)
}

func isReserved(name string) bool {
	stem := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		stem = name[:i]
	}
	return reserved[strings.ToUpper(strings.TrimSpace(stem))]
}

// ContentHash returns the hex SHA-256 of text after NFC normalization and
// line ending normalization, so equivalent text on any platform hashes the
// same.
func ContentHash(data []byte) string {
	return ContentHashString(string(data))
}

// ContentHashString is ContentHash for strings.
func ContentHashString(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 8 hex digits of the SHA-256 of s.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

// ProjectSlug returns a lower-case directory name for a project, made unique
// across renames by a prefix of its ID.
func ProjectSlug(name, id string) string {
	s := strings.ToLower(Sanitize(name, DefaultMaxLength))
	s = strings.Join(strings.Fields(s), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if r := []rune(s); len(r) > 50 {
		s = string(r[:50])
	}
	s = strings.TrimRight(s, "-")
	if s == "" {
		s = Placeholder
	}
	var short strings.Builder
	for _, r := range id {
		if short.Len() == 8 {
			break
		}
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			short.WriteRune(unicode.ToLower(r))
		}
	}
	if short.Len() == 0 {
		return s
	}
	return s + "-" + short.String()
}
