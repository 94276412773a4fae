// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/must"
)

func TestAutoPrunePolicyValidation(t *testing.T) {
	validPolicies := []string{
		`{"method":"number_of_tags","value":10}`,
		`{"method":"number_of_tags","value":1}`,
		`{"method":"number_of_tags","value":9223372036854775807}`,
		`{"method":"creation_date","value":"7d"}`,
		`{"method":"creation_date","value":"0s"}`,
		`{"method":"creation_date","value":"2w"}`,
	}
	for _, policyJSON := range validPolicies {
		p := must.ReturnT(ParseAutoPrunePolicy(policyJSON))(t)
		err := p.Validate()
		if err != nil {
			t.Errorf("expected %s to be valid, but got: %s", policyJSON, err.Error())
		}
	}

	invalidPolicies := map[string]string{
		`{"method":"number_of_tags","value":0}`:        `value for number_of_tags must be a positive integer, but got 0`,
		`{"method":"number_of_tags","value":-5}`:       `value for number_of_tags must be a positive integer, but got -5`,
		`{"method":"number_of_tags","value":2.5}`:      `value for number_of_tags must be a positive integer, but got 2.5`,
		`{"method":"number_of_tags","value":"10"}`:     `value for number_of_tags must be a positive integer, but got "10"`,
		`{"method":"number_of_tags"}`:                  `value for number_of_tags must be a positive integer, but got nothing`,
		`{"method":"creation_date","value":7}`:         `value for creation_date must be a duration string, but got 7`,
		`{"method":"creation_date","value":"7 days"}`:  `"7 days" is not a valid duration string`,
		`{"method":"creation_date","value":"7x"}`:      `"7x" is not a valid duration string: unknown unit "x"`,
		`{"method":"creation_date","value":null}`:      `"" is not a valid duration string`,
		`{"method":"by_tag_name","value":"latest"}`:    `"by_tag_name" is not a valid method`,
		`{"value":10}`:                                 `method is missing`,

		// one above math.MaxInt64
		`{"method":"number_of_tags","value":9223372036854775808}`: `value for number_of_tags must be a positive integer, but got 9223372036854775808`,
	}
	for policyJSON, expectedMessage := range invalidPolicies {
		p := must.ReturnT(ParseAutoPrunePolicy(policyJSON))(t)
		err := p.Validate()
		if err == nil {
			t.Errorf("expected %s to be invalid, but it validated", policyJSON)
			continue
		}
		ipe, ok := errext.As[InvalidPolicyError](err)
		if !ok {
			t.Errorf("expected InvalidPolicyError for %s, but got %T", policyJSON, err)
			continue
		}
		assert.DeepEqual(t, "validation error for "+policyJSON, ipe.Inner.Error(), expectedMessage)
	}
}

func TestAutoPrunePolicyAccessors(t *testing.T) {
	p := must.ReturnT(ParseAutoPrunePolicy(`{"method":"number_of_tags","value":10}`))(t)
	assert.DeepEqual(t, "TagCount", must.ReturnT(p.TagCount())(t), uint64(10))
	_, err := p.MaxAge()
	assert.DeepEqual(t, "MaxAge error", err.Error(), `cannot read maximum age from a "number_of_tags" policy`)

	p = must.ReturnT(ParseAutoPrunePolicy(`{"method":"creation_date","value":"7d"}`))(t)
	assert.DeepEqual(t, "MaxAge", must.ReturnT(p.MaxAge())(t), 7*24*time.Hour)

	// roundtrip through the DB format
	serialized := must.ReturnT(p.Serialize())(t)
	assert.DeepEqual(t, "serialized policy", serialized, `{"method":"creation_date","value":"7d"}`)

	_, err = ParseAutoPrunePolicy(`{"method":"creation_date","value":"7d","extra":true}`)
	if err == nil {
		t.Error("expected unknown fields to be rejected")
	}
}
