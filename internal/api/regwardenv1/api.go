// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwardenv1

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
)

// API contains state variables used by the Regwarden V1 API implementation.
type API struct {
	db        *regwarden.DB
	processor *processor.Processor
}

// NewAPI constructs a new API instance.
func NewAPI(db *regwarden.DB, p *processor.Processor) *API {
	return &API{db, p}
}

// AddTo implements the httpapi.API interface.
func (a *API) AddTo(r *mux.Router) {
	nsPath := "/regwarden/v1/namespaces/{namespace:[^/]+}"
	r.Methods("GET").Path(nsPath + "/autoprunepolicy/").HandlerFunc(a.handleGetNamespacePolicies)
	r.Methods("POST").Path(nsPath + "/autoprunepolicy/").HandlerFunc(a.handlePostNamespacePolicy)
	r.Methods("GET").Path(nsPath + "/autoprunepolicy/{uuid}").HandlerFunc(a.handleGetNamespacePolicy)
	r.Methods("PUT").Path(nsPath + "/autoprunepolicy/{uuid}").HandlerFunc(a.handlePutNamespacePolicy)
	r.Methods("DELETE").Path(nsPath + "/autoprunepolicy/{uuid}").HandlerFunc(a.handleDeleteNamespacePolicy)

	repoPath := nsPath + "/repos/{repo:.+}"
	r.Methods("GET").Path(repoPath + "/autoprunepolicy/").HandlerFunc(a.handleGetRepositoryPolicies)
	r.Methods("POST").Path(repoPath + "/autoprunepolicy/").HandlerFunc(a.handlePostRepositoryPolicy)
	r.Methods("DELETE").Path(repoPath + "/autoprunepolicy/{uuid}").HandlerFunc(a.handleDeleteRepositoryPolicy)

	r.Methods("GET").Path(nsPath + "/quota").HandlerFunc(a.handleGetQuota)
}

// Maps domain errors to their respective HTTP status. Returns false if err is nil.
func respondWithError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	status := http.StatusInternalServerError
	switch {
	case errext.IsOfType[regwarden.UnknownNamespaceError](err),
		errext.IsOfType[regwarden.UnknownRepositoryError](err),
		errors.Is(err, regwarden.ErrPolicyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, regwarden.ErrPolicyAlreadyExists),
		errors.Is(err, regwarden.ErrRepositoryPolicyAlreadyExists):
		status = http.StatusConflict
	case errext.IsOfType[regwarden.InvalidPolicyError](err):
		status = http.StatusUnprocessableEntity
	default:
		return respondwith.ErrorText(w, err)
	}
	http.Error(w, err.Error(), status)
	return true
}
