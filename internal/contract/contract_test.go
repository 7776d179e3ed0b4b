package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()

	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestValidate_NotAnObject(t *testing.T) {
	assert.Equal(t, []string{MissingObject}, Validate(Core, decode(t, `[1,2]`)))
	assert.Equal(t, []string{MissingObject}, Validate(Ecom, decode(t, `"text"`)))
	assert.Equal(t, []string{MissingObject}, Validate(Social, nil))
}

func TestValidate_Core(t *testing.T) {
	ok := decode(t, `{"schema_version":"v1","extracted":{"k":"v"},"confidence":0.9}`)
	assert.Empty(t, Validate(Core, ok))

	missing := Validate(Core, decode(t, `{"schema_version":""}`))
	assert.Equal(t, []string{"schema_version", "extracted", "confidence"}, missing)

	// extracted must be an object, not an array.
	missing = Validate(Core, decode(t, `{"schema_version":"v1","extracted":[],"confidence":1}`))
	assert.Equal(t, []string{"extracted"}, missing)
}

func TestValidate_Auto(t *testing.T) {
	ok := decode(t, `{"schema_version":"v1","type":"job_posting","data":{},"confidence":0.7}`)
	assert.Empty(t, Validate(Auto, ok))

	// A type that is present but not snake_case surfaces the pseudo-missing marker.
	bad := decode(t, `{"schema_version":"v1","type":"Job Posting","data":{},"confidence":0.7}`)
	assert.Equal(t, []string{MissingTypeSnakeCase}, Validate(Auto, bad))

	missingType := decode(t, `{"schema_version":"v1","data":{},"confidence":0.7}`)
	assert.Equal(t, []string{"type"}, Validate(Auto, missingType))
}

func TestValidate_Ecom(t *testing.T) {
	ok := decode(t, `{"title":"Widget","price":19.99,"currency":"USD","spec":{},"skus":[],"bullet_points":[]}`)
	assert.Empty(t, Validate(Ecom, ok))

	// Scenario S8: an empty-ish reply lists every ecom field.
	missing := Validate(Ecom, decode(t, `{"schema_version":"x"}`))
	assert.Equal(t, []string{"title", "price", "currency", "spec", "skus", "bullet_points"}, missing)

	// Comma-decimal string prices are numeric-like.
	commaPrice := decode(t, `{"title":"Widget","price":"1299,00","currency":"EUR","spec":{},"skus":[],"bullet_points":[]}`)
	assert.Empty(t, Validate(Ecom, commaPrice))

	badPrice := decode(t, `{"title":"Widget","price":"call us","currency":"EUR","spec":{},"skus":[],"bullet_points":[]}`)
	assert.Equal(t, []string{"price"}, Validate(Ecom, badPrice))

	// Currency needs at least 3 characters.
	badCurrency := decode(t, `{"title":"W","price":1,"currency":"$","spec":{},"skus":[],"bullet_points":[]}`)
	assert.Equal(t, []string{"currency"}, Validate(Ecom, badCurrency))
}

func TestValidate_News(t *testing.T) {
	ok := decode(t, `{"title":"T","author":null,"published_at":"2025-01-01","summary":"s","viewpoints":[],"entities":[]}`)
	assert.Empty(t, Validate(News, ok))

	// author/published_at accept null but the keys must exist.
	missing := Validate(News, decode(t, `{"title":"T","summary":"s","viewpoints":[],"entities":[]}`))
	assert.Equal(t, []string{"author", "published_at"}, missing)

	// An empty summary is still a string, so it passes.
	emptySummary := decode(t, `{"title":"T","author":null,"published_at":null,"summary":"","viewpoints":[],"entities":[]}`)
	assert.Empty(t, Validate(News, emptySummary))
}

func TestValidate_Social(t *testing.T) {
	ok := decode(t, `{"sentiment":"positive","core_demand":"","brands":[],"purchase_intent":false,"purchase_intent_reason":"no signal"}`)
	assert.Empty(t, Validate(Social, ok))

	// purchase_intent must be a real boolean; a string does not count.
	missing := Validate(Social, decode(t, `{"sentiment":"positive","core_demand":"x","brands":[],"purchase_intent":"false","purchase_intent_reason":"r"}`))
	assert.Equal(t, []string{"purchase_intent"}, missing)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "core", Core.String())
	assert.Equal(t, "auto", Auto.String())
	assert.Equal(t, "ecom", Ecom.String())
	assert.Equal(t, "news", News.String())
	assert.Equal(t, "social", Social.String())
}
