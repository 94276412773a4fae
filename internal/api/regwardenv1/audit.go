// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwardenv1

import (
	"net/http"

	"github.com/sapcc/go-api-declarations/cadf"

	"github.com/sapcc/regwarden/internal/processor"
)

func auditContextFor(r *http.Request) processor.AuditContext {
	return processor.AuditContext{
		UserInfo: apiClientUserInfo{},
		Request:  r,
	}
}

// apiClientUserInfo is an audittools.UserInfo representing a client of this
// API. Authentication happens in front of regwarden, so all we know about the
// client is the host that the request came from.
type apiClientUserInfo struct{}

// UserUUID implements the audittools.UserInfo interface.
func (apiClientUserInfo) UserUUID() string {
	return "" // unused
}

// UserName implements the audittools.UserInfo interface.
func (apiClientUserInfo) UserName() string {
	return "" // unused
}

// UserDomainName implements the audittools.UserInfo interface.
func (apiClientUserInfo) UserDomainName() string {
	return "" // unused
}

// ProjectScopeUUID implements the audittools.UserInfo interface.
func (apiClientUserInfo) ProjectScopeUUID() string {
	return "" // unused
}

// ProjectScopeName implements the audittools.UserInfo interface.
func (apiClientUserInfo) ProjectScopeName() string {
	return "" // unused
}

// ProjectScopeDomainName implements the audittools.UserInfo interface.
func (apiClientUserInfo) ProjectScopeDomainName() string {
	return "" // unused
}

// DomainScopeUUID implements the audittools.UserInfo interface.
func (apiClientUserInfo) DomainScopeUUID() string {
	return "" // unused
}

// DomainScopeName implements the audittools.UserInfo interface.
func (apiClientUserInfo) DomainScopeName() string {
	return "" // unused
}

// ApplicationCredentialID implements the audittools.UserInfo interface.
func (apiClientUserInfo) ApplicationCredentialID() string {
	return "" // unused
}

// AsInitiator implements the audittools.NonStandardUserInfo interface.
func (apiClientUserInfo) AsInitiator(host cadf.Host) cadf.Resource {
	return cadf.Resource{
		TypeURI: "service/docker-registry/api-client",
		Name:    host.Address,
		Domain:  "regwarden",
		Host:    &host,
	}
}
