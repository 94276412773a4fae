// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwardenv1

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
)

// Policy is the API representation of an autoprune policy.
type Policy struct {
	UUID   string                    `json:"uuid"`
	Method regwarden.AutoPruneMethod `json:"method"`
	Value  json.RawMessage           `json:"value"`
}

func renderNamespacePolicy(p processor.NamespacePolicy) Policy {
	return Policy{UUID: p.UUID, Method: p.Policy.Method, Value: p.Policy.Value}
}

func renderRepositoryPolicy(p processor.RepositoryPolicy) Policy {
	return Policy{UUID: p.UUID, Method: p.Policy.Method, Value: p.Policy.Value}
}

// Unknown fields are rejected. The result is validated later by the processor.
func parsePolicyFromRequest(r *http.Request) (regwarden.AutoPrunePolicy, error) {
	var policy regwarden.AutoPrunePolicy
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&policy)
	if err != nil {
		return regwarden.AutoPrunePolicy{}, regwarden.InvalidPolicyError{Inner: err}
	}
	return policy, nil
}

func (a *API) handleGetNamespacePolicies(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/autoprunepolicy/")
	policies, err := a.processor.GetNamespaceAutoPrunePolicies(mux.Vars(r)["namespace"])
	if respondWithError(w, err) {
		return
	}
	result := make([]Policy, len(policies))
	for idx, p := range policies {
		result[idx] = renderNamespacePolicy(p)
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"policies": result})
}

func (a *API) handlePostNamespacePolicy(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/autoprunepolicy/")
	createTask := true
	if value := r.URL.Query().Get("create_task"); value != "" {
		var err error
		createTask, err = strconv.ParseBool(value)
		if err != nil {
			http.Error(w, "malformed query parameter create_task: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	policy, err := parsePolicyFromRequest(r)
	if respondWithError(w, err) {
		return
	}
	uuid, err := a.processor.CreateNamespaceAutoPrunePolicy(auditContextFor(r), mux.Vars(r)["namespace"], policy, createTask)
	if respondWithError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusCreated, map[string]string{"uuid": uuid})
}

func (a *API) handleGetNamespacePolicy(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/autoprunepolicy/:uuid")
	vars := mux.Vars(r)
	policy, err := a.processor.GetNamespaceAutoPrunePolicy(vars["namespace"], vars["uuid"])
	if respondWithError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, renderNamespacePolicy(policy))
}

func (a *API) handlePutNamespacePolicy(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/autoprunepolicy/:uuid")
	vars := mux.Vars(r)
	policy, err := parsePolicyFromRequest(r)
	if respondWithError(w, err) {
		return
	}
	err = a.processor.UpdateNamespaceAutoPrunePolicy(auditContextFor(r), vars["namespace"], vars["uuid"], policy)
	if respondWithError(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteNamespacePolicy(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/autoprunepolicy/:uuid")
	vars := mux.Vars(r)
	err := a.processor.DeleteNamespaceAutoPrunePolicy(auditContextFor(r), vars["namespace"], vars["uuid"])
	if respondWithError(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetRepositoryPolicies(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/repos/:repo/autoprunepolicy/")
	vars := mux.Vars(r)
	policies, err := a.processor.GetRepositoryAutoPrunePolicies(vars["namespace"], vars["repo"])
	if respondWithError(w, err) {
		return
	}
	result := make([]Policy, len(policies))
	for idx, p := range policies {
		result[idx] = renderRepositoryPolicy(p)
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"policies": result})
}

func (a *API) handlePostRepositoryPolicy(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/repos/:repo/autoprunepolicy/")
	vars := mux.Vars(r)
	policy, err := parsePolicyFromRequest(r)
	if respondWithError(w, err) {
		return
	}
	uuid, err := a.processor.CreateRepositoryAutoPrunePolicy(auditContextFor(r), vars["namespace"], vars["repo"], policy)
	if respondWithError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusCreated, map[string]string{"uuid": uuid})
}

func (a *API) handleDeleteRepositoryPolicy(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/repos/:repo/autoprunepolicy/:uuid")
	vars := mux.Vars(r)
	err := a.processor.DeleteRepositoryAutoPrunePolicy(auditContextFor(r), vars["namespace"], vars["repo"], vars["uuid"])
	if respondWithError(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
