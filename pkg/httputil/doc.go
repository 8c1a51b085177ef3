// Package httputil provides HTTP utilities shared by the enforcement middleware.
//
// # Response Helpers
//
// Error bodies use a single "detail" field, with per-field messages for
// validation failures:
//
//	httputil.WriteDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
//	httputil.WriteFieldErrors(w, "Invalid assignment.", map[string][]string{"roles": {"unknown role: NURSE"}})
//
// # Request Parsing
//
// Path parameters come from gorilla/mux:
//
//	id, err := httputil.ParsePathInt64(r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.TracingMiddleware("patients"),
//	)(router)
//
// RequestIDMiddleware stores the request ID in the context, so audit events
// recorded while serving the request carry it.
package httputil
