// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"errors"
	"fmt"
)

// UnknownNamespaceError is returned when an operation refers to a namespace
// name that does not exist.
type UnknownNamespaceError struct {
	Name string
}

// Error implements the builtin/error interface.
func (e UnknownNamespaceError) Error() string {
	return "Invalid namespace provided: " + e.Name
}

// UnknownRepositoryError is returned when an operation refers to a repository
// that does not exist within its namespace.
type UnknownRepositoryError struct {
	NamespaceName  string
	RepositoryName string
}

// Error implements the builtin/error interface.
func (e UnknownRepositoryError) Error() string {
	return fmt.Sprintf("Invalid repository provided: %s/%s", e.NamespaceName, e.RepositoryName)
}

// InvalidPolicyError is returned when an autoprune policy fails validation.
type InvalidPolicyError struct {
	Inner error
}

// Error implements the builtin/error interface.
func (e InvalidPolicyError) Error() string {
	return "invalid autoprune policy: " + e.Inner.Error()
}

// Unwrap implements the interface implied by errors.Unwrap().
func (e InvalidPolicyError) Unwrap() error {
	return e.Inner
}

var (
	// ErrPolicyAlreadyExists is returned when creating a namespace policy while one exists already.
	ErrPolicyAlreadyExists = errors.New("Policy for this namespace already exists, delete existing to create new policy") //nolint:staticcheck // message is part of the API
	// ErrRepositoryPolicyAlreadyExists is like ErrPolicyAlreadyExists, but for repository policies.
	ErrRepositoryPolicyAlreadyExists = errors.New("Policy for this repository already exists, delete existing to create new policy") //nolint:staticcheck // message is part of the API
	// ErrPolicyNotFound is returned when a policy UUID does not exist within the given scope.
	ErrPolicyNotFound = errors.New("autoprune policy not found")
)
