// Package authz defines the tenant authorization contract consumed by the
// transaction scoping layer.
//
// Core concepts:
//
//   - TenantContext: the immutable {tenant, user, role} triple produced by the
//     authentication boundary. Set via WithTenantContext with set-once
//     semantics; read via FromContext / MustFromContext.
//
//   - BypassContext: a distinct marker for privileged cross-tenant operations.
//     Only constructible through a named SystemOperation, never from a
//     TenantContext. Every use is audited by the scope layer.
//
// Usage rules:
//
//  1. Only the authentication boundary (ParseTenantToken) constructs a
//     TenantContext in production code.
//  2. Never convert a TenantContext into a BypassContext; privileged paths are
//     a separate type on purpose.
//  3. Background tasks must declare the named SystemOperation they run as.
package authz
