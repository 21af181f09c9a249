/*
xeroinvoiceserver v0.2.0

https://github.com/rorycl/xeroinvoiceserver

Summary:

XeroInvoiceServer is an http server which connects to the accounting
software as a service system Xero with OAuth2 and raises invoices,
contacts and bank transactions on behalf of its users.

Each browser session follows the Xero consent flow at /connect. Its token
set is held server side, in memory or redis, and is refreshed on demand
when a call finds the access token expired; Xero refresh tokens are
single use, so concurrent requests of one session share a single
refresh.

Freight jobs posted to /invoice are turned into draft receivable
invoices, one line per vehicle, with the job's client found by email or
created as a Xero contact.

Optional local accounts (a json file or redis) keep a user's token set
so that signing in again reconnects to Xero, and signed Xero webhooks
are accepted at /webhooks.

The xeroinvoiceserver/token package provides a convenient way to
integrate Xero Oauth2 flows into a Go programme.

This software is provided under an MIT licence, with no warranty.
*/

package main
