// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Duration is a time.Duration that is written as a count and a single unit,
// e.g. "7d" or "2w". This is the format of the value in creation_date policies.
type Duration time.Duration

var units = []struct {
	Name   string
	Length Duration
}{
	// ordered from big to small
	{"y", Duration(365 * 24 * time.Hour)},
	{"w", Duration(7 * 24 * time.Hour)},
	{"d", Duration(24 * time.Hour)},
	{"h", Duration(time.Hour)},
	{"m", Duration(time.Minute)},
	{"s", Duration(time.Second)},
}

var durationRx = regexp.MustCompile(`^([0-9]+)([a-z])$`)

// ParseDuration parses a string like "7d" into a Duration.
func ParseDuration(in string) (Duration, error) {
	match := durationRx.FindStringSubmatch(in)
	if match == nil {
		return 0, fmt.Errorf("%q is not a valid duration string", in)
	}
	value, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid duration string: %w", in, err)
	}
	for _, unit := range units {
		if unit.Name == match[2] {
			if value > int64(1<<63-1)/int64(unit.Length) {
				return 0, fmt.Errorf("%q is not a valid duration string: value out of range", in)
			}
			return Duration(value) * unit.Length, nil
		}
	}
	return 0, fmt.Errorf("%q is not a valid duration string: unknown unit %q", in, match[2])
}

// String renders the duration in the largest unit that does not lose accuracy.
// Fractional seconds are truncated.
func (d Duration) String() string {
	// without this, the loop below would render 0 as "0y"
	if d < Duration(time.Second) {
		return "0s"
	}
	d -= d % Duration(time.Second)
	for _, unit := range units {
		if d%unit.Length == 0 {
			return strconv.FormatInt(int64(d/unit.Length), 10) + unit.Name
		}
	}
	panic("unreachable")
}

// MarshalJSON implements the json.Marshaler interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(src []byte) error {
	var in string
	err := json.Unmarshal(src, &in)
	if err != nil {
		return err
	}
	*d, err = ParseDuration(in)
	return err
}
