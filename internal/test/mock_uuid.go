// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"fmt"
)

// GenerateExampleUUID returns a deterministic replacement for the generator of
// policy UUIDs. The returned UUIDs are "00000000-0000-0000-0000-000000000001" etc.
func GenerateExampleUUID() func() string {
	var n uint64
	return func() string {
		n++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
	}
}
