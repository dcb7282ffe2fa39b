// Package token implements the T-Bank request signing codec.
//
// A token is the hex-encoded SHA-256 digest of the request's scalar field
// values concatenated in lexicographic key order, with the terminal secret
// appended as a Password field. Nested structures (receipts, the DATA
// object) are excluded from the signing input by type inspection.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Sign computes the token for a flat field set and a shared secret.
// The input map is not modified.
func Sign(fields map[string]any, secret string) string {
	entries := make(map[string]string, len(fields)+1)

	for key, value := range fields {
		str, ok := coerce(value)
		if !ok {
			continue
		}
		entries[key] = str
	}
	entries["Password"] = secret

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(entries[key])
	}

	digest := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(digest[:])
}

// Verify recomputes the token over every field except Token itself and
// compares it to the supplied one in constant time. A missing Token field
// is treated as an empty string and fails verification.
func Verify(fields map[string]any, secret string) bool {
	supplied := ""
	if raw, ok := fields["Token"]; ok {
		if str, scalar := coerce(raw); scalar {
			supplied = str
		}
	}

	rest := make(map[string]any, len(fields))
	for key, value := range fields {
		if key == "Token" {
			continue
		}
		rest[key] = value
	}

	expected := Sign(rest, secret)

	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// coerce converts a scalar value to its signing string form. Structured
// containers report ok=false and are left out of the signing input.
func coerce(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		// JSON decoding yields float64 for every number; integral
		// values must sign as plain decimal integers.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return "", false
	}

	return fmt.Sprint(value), true
}
