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

package exterrors

import (
	"errors"
	"net/http"
)

// Kind is the closed set of request-level failure classes the gateway
// reports to clients. Handlers and middlewares construct APIError values;
// the HTTP endpoint is the only translator from Kind to a status code and
// a wire body.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnsupportedMediaType
	KindNotAcceptable
	KindRateLimited
	KindServiceUnavailable
)

// Code returns the machine-readable code used in the error body.
func (k Kind) Code() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindNotAcceptable:
		return "not_acceptable"
	case KindRateLimited:
		return "rate_limited"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus returns the response status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindNotAcceptable:
		return http.StatusNotAcceptable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// APIError carries a Kind together with the human-readable message and
// optional details payload serialized into the error body.
type APIError struct {
	Kind    Kind
	Message string
	Details interface{}
}

func (e *APIError) Error() string {
	return e.Message
}

// Temporary reports whether the client may usefully retry the same request
// later without changing it.
func (e *APIError) Temporary() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServiceUnavailable
}

func (e *APIError) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"code": e.Kind.Code(),
	}
	if e.Details != nil {
		fields["details"] = e.Details
	}
	return fields
}

func BadRequest(msg string) *APIError {
	return &APIError{Kind: KindBadRequest, Message: msg}
}

func UnsupportedMediaType(msg string) *APIError {
	return &APIError{Kind: KindUnsupportedMediaType, Message: msg}
}

func NotAcceptable(msg string) *APIError {
	return &APIError{Kind: KindNotAcceptable, Message: msg}
}

func RateLimited(msg string) *APIError {
	return &APIError{Kind: KindRateLimited, Message: msg}
}

func ServiceUnavailable(msg string) *APIError {
	return &APIError{Kind: KindServiceUnavailable, Message: msg}
}

func Internal(msg string) *APIError {
	return &APIError{Kind: KindInternal, Message: msg}
}

// AsAPIError unwraps err down to an *APIError, returning nil when the chain
// does not contain one.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
