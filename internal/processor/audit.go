// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"net/http"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/audittools"

	"github.com/sapcc/regwarden/internal/regwarden"
)

// AuditContext identifies the user and request that triggered a mutation.
// If UserInfo is nil, no audit event is recorded.
type AuditContext struct {
	UserInfo audittools.UserInfo
	Request  *http.Request
}

func (p *Processor) recordAuditEvent(actx AuditContext, action cadf.Action, target audittools.Target) {
	if actx.UserInfo == nil || p.auditor == nil {
		return
	}
	p.auditor.Record(audittools.Event{
		Time:       p.timeNow(),
		Request:    actx.Request,
		User:       actx.UserInfo,
		ReasonCode: http.StatusOK,
		Action:     action,
		Target:     target,
	})
}

// AuditNamespacePolicy is an audittools.Target.
type AuditNamespacePolicy struct {
	NamespaceName string
	UUID          string
	Policy        regwarden.AutoPrunePolicy
}

// Render implements the audittools.Target interface.
func (a AuditNamespacePolicy) Render() cadf.Resource {
	return cadf.Resource{
		TypeURI:     "docker-registry/namespace/autoprune-policy",
		Name:        a.NamespaceName,
		ID:          a.UUID,
		Attachments: renderPolicyAttachment(a.Policy),
	}
}

// AuditRepositoryPolicy is an audittools.Target.
type AuditRepositoryPolicy struct {
	NamespaceName  string
	RepositoryName string
	UUID           string
	Policy         regwarden.AutoPrunePolicy
}

// Render implements the audittools.Target interface.
func (a AuditRepositoryPolicy) Render() cadf.Resource {
	return cadf.Resource{
		TypeURI:     "docker-registry/namespace/repository/autoprune-policy",
		Name:        a.NamespaceName + "/" + a.RepositoryName,
		ID:          a.UUID,
		Attachments: renderPolicyAttachment(a.Policy),
	}
}

func renderPolicyAttachment(policy regwarden.AutoPrunePolicy) []cadf.Attachment {
	policyJSON, err := policy.Serialize()
	if err != nil {
		return nil
	}
	return []cadf.Attachment{{
		Name:    "payload",
		TypeURI: "mime:application/json",
		Content: policyJSON,
	}}
}
