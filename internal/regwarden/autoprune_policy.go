// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// AutoPruneMethod is an enum for the way in which an AutoPrunePolicy selects
// tags for deletion.
type AutoPruneMethod string

const (
	// PruneByNumberOfTags keeps the N most recent tags of each repository.
	PruneByNumberOfTags AutoPruneMethod = "number_of_tags"
	// PruneByCreationDate deletes tags older than a given duration.
	PruneByCreationDate AutoPruneMethod = "creation_date"
)

// AutoPrunePolicy is the body of an autoprune policy. This appears in the
// `policy_json` columns of both policy tables, in the default policy
// configuration and in the API.
//
// The type of Value depends on Method: a positive integer for
// PruneByNumberOfTags, a duration string like "7d" for PruneByCreationDate.
// Use TagCount() or MaxAge() to read it.
type AutoPrunePolicy struct {
	Method AutoPruneMethod `json:"method"`
	Value  json.RawMessage `json:"value"`
}

// ParseAutoPrunePolicy parses the contents of a `policy_json` column.
// The result is not validated.
func ParseAutoPrunePolicy(policyJSON string) (AutoPrunePolicy, error) {
	var p AutoPrunePolicy
	err := UnmarshalJSONStrict([]byte(policyJSON), &p)
	if err != nil {
		return AutoPrunePolicy{}, fmt.Errorf("cannot parse autoprune policy %q: %w", policyJSON, err)
	}
	return p, nil
}

// Validate returns an error if this policy cannot be executed. The error is
// always of type InvalidPolicyError.
func (p AutoPrunePolicy) Validate() error {
	err := p.validate()
	if err != nil {
		return InvalidPolicyError{err}
	}
	return nil
}

func (p AutoPrunePolicy) validate() error {
	switch p.Method {
	case PruneByNumberOfTags:
		_, err := p.TagCount()
		return err
	case PruneByCreationDate:
		_, err := p.MaxAge()
		return err
	case "":
		return errors.New("method is missing")
	default:
		return fmt.Errorf("%q is not a valid method", string(p.Method))
	}
}

// TagCount returns the number of tags that a PruneByNumberOfTags policy retains.
func (p AutoPrunePolicy) TagCount() (uint64, error) {
	if p.Method != PruneByNumberOfTags {
		return 0, fmt.Errorf("cannot read tag count from a %q policy", string(p.Method))
	}
	var count uint64
	err := json.Unmarshal(p.Value, &count)
	// tag counts end up in BIGINT columns and int64 offsets
	if err != nil || count == 0 || count > math.MaxInt64 {
		return 0, fmt.Errorf("value for %s must be a positive integer, but got %s", p.Method, p.valueForDisplay())
	}
	return count, nil
}

// MaxAge returns the age beyond which a PruneByCreationDate policy deletes tags.
func (p AutoPrunePolicy) MaxAge() (time.Duration, error) {
	if p.Method != PruneByCreationDate {
		return 0, fmt.Errorf("cannot read maximum age from a %q policy", string(p.Method))
	}
	var in string
	err := json.Unmarshal(p.Value, &in)
	if err != nil {
		return 0, fmt.Errorf("value for %s must be a duration string, but got %s", p.Method, p.valueForDisplay())
	}
	d, err := ParseDuration(in)
	if err != nil {
		return 0, err
	}
	return time.Duration(d), nil
}

func (p AutoPrunePolicy) valueForDisplay() string {
	if len(p.Value) == 0 {
		return "nothing"
	}
	return string(p.Value)
}

// Serialize renders this policy into the format of the `policy_json` columns.
func (p AutoPrunePolicy) Serialize() (string, error) {
	buf, err := json.Marshal(p)
	return string(buf), err
}
