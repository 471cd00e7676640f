// Package common contains shared constants and sentinel errors used across
// bizdesk components.
package common

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "bizdesk_session"

// DefaultCurrency is applied to invoices created without an explicit currency.
const DefaultCurrency = "UGX"
