/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/foxcpp/gale/framework/exterrors"
)

type statusBody struct {
	Status string `json:"status"`
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type pageMeta struct {
	Page     int64 `json:"page"`
	PageSize int64 `json:"pageSize"`
	Total    int64 `json:"total"`
}

type listResponse struct {
	Items interface{} `json:"items"`
	Meta  pageMeta    `json:"meta"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is out; an encode failure here can only truncate the
	// body, there is nothing useful left to report to the client.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders any error as the wire error body. Errors that do not
// carry an APIError in their chain are reported as opaque internal failures.
func writeError(w http.ResponseWriter, err error) {
	apiErr := exterrors.AsAPIError(err)
	if apiErr == nil {
		apiErr = exterrors.Internal("internal error")
	}
	writeJSON(w, apiErr.Kind.HTTPStatus(), errorBody{
		Code:    apiErr.Kind.Code(),
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

// decodeJSON reads the request body into v. On failure it writes the error
// response itself and reports false. A body over the configured size cap
// gets 413 with the bad_request code; anything else unparsable gets 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Code:    "bad_request",
				Message: "request body too large",
			})
			return false
		}
		writeError(w, exterrors.BadRequest("malformed JSON body"))
		return false
	}
	return true
}
