// Package ambient carries the per-call values the repository core stamps on
// records: tenant, caller identity and the test-data flag.
//
// The values travel explicitly inside context.Context. Nothing is read from
// process globals.
package ambient

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Header names propagated by Middleware.
const (
	HeaderTenantID      = "X-Tenant-Id"
	HeaderUserID        = "X-User-Id"
	HeaderCallerService = "X-Caller-Service"
	HeaderIsTestData    = "X-Is-Test-Data"
)

// Context is the ambient state of one call.
type Context struct {
	TenantID      string
	UserID        string
	CallerService string
	IsTestData    bool
}

// Caller returns the identity stamped as createdBy: the user when known,
// otherwise the calling service.
func (c Context) Caller() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.CallerService
}

type ctxKey struct{}

// With returns a copy of ctx carrying c.
func With(ctx context.Context, c Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, c)
}

// WithTenant returns a copy of ctx whose ambient tenant is tenantID, keeping
// any other ambient values already present.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	c := From(ctx)
	c.TenantID = tenantID
	return With(ctx, c)
}

// From returns the ambient values in ctx, or the zero Context.
func From(ctx context.Context) Context {
	if ctx == nil {
		return Context{}
	}
	if c, ok := ctx.Value(ctxKey{}).(Context); ok {
		return c
	}
	return Context{}
}

// FromHeader reads ambient values from request headers.
func FromHeader(h http.Header) Context {
	testData, _ := strconv.ParseBool(strings.TrimSpace(h.Get(HeaderIsTestData)))
	return Context{
		TenantID:      strings.TrimSpace(h.Get(HeaderTenantID)),
		UserID:        strings.TrimSpace(h.Get(HeaderUserID)),
		CallerService: strings.TrimSpace(h.Get(HeaderCallerService)),
		IsTestData:    testData,
	}
}

// Header writes c onto h so it can be forwarded to a downstream call.
func (c Context) Header(h http.Header) {
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set(HeaderTenantID, c.TenantID)
	set(HeaderUserID, c.UserID)
	set(HeaderCallerService, c.CallerService)
	if c.IsTestData {
		h.Set(HeaderIsTestData, "true")
	}
}

// Middleware attaches the ambient values found in the request headers to the
// request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := With(r.Context(), FromHeader(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
