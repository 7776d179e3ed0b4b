package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parsegate/parsegate/internal/contract"
)

func TestFor_CoversEveryKind(t *testing.T) {
	kinds := []contract.Kind{contract.Core, contract.Auto, contract.Ecom, contract.News, contract.Social}

	for _, kind := range kinds {
		p := For(kind)
		assert.True(t, strings.HasPrefix(p, Alignment), "kind %s must open with the alignment sentence", kind)
		assert.Contains(t, p, "no markdown fencing", "kind %s must forbid fencing", kind)
		assert.Contains(t, p, "snake_case", "kind %s must state the key convention", kind)
	}
}

func TestFor_EnumeratesContractFields(t *testing.T) {
	p := For(contract.Ecom)
	for _, field := range []string{"title", "price", "currency", "spec", "skus", "bullet_points"} {
		assert.Contains(t, p, `"`+field+`"`)
	}

	p = For(contract.Social)
	for _, field := range []string{"sentiment", "core_demand", "brands", "purchase_intent", "purchase_intent_reason"} {
		assert.Contains(t, p, `"`+field+`"`)
	}
}

func TestAlign(t *testing.T) {
	aligned := Align("Extract the invoice total.")
	assert.True(t, strings.HasPrefix(aligned, Alignment))
	assert.Contains(t, aligned, "Extract the invoice total.")

	// Aligning twice must not stack the sentence.
	assert.Equal(t, aligned, Align(aligned))
}
