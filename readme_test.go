// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/sapcc/go-bits/must"
)

var envVarLiteralRx = regexp.MustCompile(`"(REGWARDEN_[A-Z0-9_]+)"`)

// The help text of the server commands refers to README.md for configuration.
func TestReadmeDocumentsAllEnvironmentVariables(t *testing.T) {
	readme := string(must.ReturnT(os.ReadFile("README.md"))(t))

	for _, root := range []string{"main.go", "cmd", "internal"} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path == filepath.Join("internal", "test") {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			buf, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			// variable prefixes like REGWARDEN_LOCK_REDIS are covered by the full names that start with them
			for _, match := range envVarLiteralRx.FindAllStringSubmatch(string(buf), -1) {
				if !strings.Contains(readme, "`"+match[1]) {
					t.Errorf("%s reads %s, but README.md does not document it", path, match[1])
				}
			}
			return nil
		})
		must.SucceedT(t, err)
	}
}
