// Package contract validates model output against the per-mode required
// shape. Validation is structural only: it checks presence and type of the
// required fields and reports what is missing, never what is extra.
package contract

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind selects the required-field set for a response.
type Kind int

const (
	// Core is the default shape for generic extraction.
	Core Kind = iota
	// Auto is the shape for self-classified extraction.
	Auto
	// Ecom is the product-page shape.
	Ecom
	// News is the article shape.
	News
	// Social is the social-post shape.
	Social
)

func (k Kind) String() string {
	switch k {
	case Core:
		return "core"
	case Auto:
		return "auto"
	case Ecom:
		return "ecom"
	case News:
		return "news"
	case Social:
		return "social"
	default:
		return "unknown"
	}
}

// Pseudo-missing markers for violations that are not a plainly absent key.
const (
	// MissingObject is reported when the top-level value is not an object.
	MissingObject = "json_object"
	// MissingTypeSnakeCase is reported when auto's type field exists but is
	// not lower snake_case.
	MissingTypeSnakeCase = "type_snake_case"
)

var snakeCase = regexp.MustCompile(`^[a-z0-9_]+$`)

// Validate checks value against the contract for kind and returns the
// missing field names in contract order. An empty slice means the contract
// is satisfied.
func Validate(kind Kind, value any) []string {
	obj, ok := value.(map[string]any)
	if !ok {
		return []string{MissingObject}
	}

	switch kind {
	case Auto:
		return validateAuto(obj)
	case Ecom:
		return validateEcom(obj)
	case News:
		return validateNews(obj)
	case Social:
		return validateSocial(obj)
	default:
		return validateCore(obj)
	}
}

func validateCore(obj map[string]any) []string {
	var missing []string
	if !hasNonEmptyString(obj, "schema_version") {
		missing = append(missing, "schema_version")
	}
	if !hasObject(obj, "extracted") {
		missing = append(missing, "extracted")
	}
	if !hasNumber(obj, "confidence") {
		missing = append(missing, "confidence")
	}
	return missing
}

func validateAuto(obj map[string]any) []string {
	var missing []string
	if !hasNonEmptyString(obj, "schema_version") {
		missing = append(missing, "schema_version")
	}

	if typ, ok := obj["type"].(string); !ok || typ == "" {
		missing = append(missing, "type")
	} else if !snakeCase.MatchString(typ) {
		missing = append(missing, MissingTypeSnakeCase)
	}

	if !hasObject(obj, "data") {
		missing = append(missing, "data")
	}
	if !hasNumber(obj, "confidence") {
		missing = append(missing, "confidence")
	}
	return missing
}

func validateEcom(obj map[string]any) []string {
	var missing []string
	if !hasNonEmptyString(obj, "title") {
		missing = append(missing, "title")
	}
	if !isNumericLike(obj["price"]) {
		missing = append(missing, "price")
	}
	if cur, ok := obj["currency"].(string); !ok || len(cur) < 3 {
		missing = append(missing, "currency")
	}
	if !hasObject(obj, "spec") {
		missing = append(missing, "spec")
	}
	if !hasArray(obj, "skus") {
		missing = append(missing, "skus")
	}
	if !hasArray(obj, "bullet_points") {
		missing = append(missing, "bullet_points")
	}
	return missing
}

func validateNews(obj map[string]any) []string {
	var missing []string
	if !hasNonEmptyString(obj, "title") {
		missing = append(missing, "title")
	}
	// author and published_at accept null, but the key must exist.
	if !hasStringOrNull(obj, "author") {
		missing = append(missing, "author")
	}
	if !hasStringOrNull(obj, "published_at") {
		missing = append(missing, "published_at")
	}
	if _, ok := obj["summary"].(string); !ok {
		missing = append(missing, "summary")
	}
	if !hasArray(obj, "viewpoints") {
		missing = append(missing, "viewpoints")
	}
	if !hasArray(obj, "entities") {
		missing = append(missing, "entities")
	}
	return missing
}

func validateSocial(obj map[string]any) []string {
	var missing []string
	if !hasNonEmptyString(obj, "sentiment") {
		missing = append(missing, "sentiment")
	}
	if _, ok := obj["core_demand"].(string); !ok {
		missing = append(missing, "core_demand")
	}
	if !hasArray(obj, "brands") {
		missing = append(missing, "brands")
	}
	if _, ok := obj["purchase_intent"].(bool); !ok {
		missing = append(missing, "purchase_intent")
	}
	if !hasNonEmptyString(obj, "purchase_intent_reason") {
		missing = append(missing, "purchase_intent_reason")
	}
	return missing
}

func hasNonEmptyString(obj map[string]any, key string) bool {
	s, ok := obj[key].(string)
	return ok && s != ""
}

func hasObject(obj map[string]any, key string) bool {
	_, ok := obj[key].(map[string]any)
	return ok
}

func hasArray(obj map[string]any, key string) bool {
	_, ok := obj[key].([]any)
	return ok
}

func hasNumber(obj map[string]any, key string) bool {
	switch obj[key].(type) {
	case float64, int, int64:
		return true
	default:
		return false
	}
}

func hasStringOrNull(obj map[string]any, key string) bool {
	v, present := obj[key]
	if !present {
		return false
	}
	if v == nil {
		return true
	}
	_, ok := v.(string)
	return ok
}

// isNumericLike accepts numbers and strings that parse as a number after
// substituting a decimal comma ("1.299,00" style inputs arrive as "1299,00").
func isNumericLike(v any) bool {
	switch n := v.(type) {
	case float64, int, int64:
		return true
	case string:
		if n == "" {
			return false
		}
		_, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", "."), 64)
		return err == nil
	default:
		return false
	}
}
