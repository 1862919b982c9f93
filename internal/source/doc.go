// Package source provides the REST client for the sale gateway's
// authoritative state endpoint. The relay fetches the full sale state here
// once at startup and periodically during reconciliation.
package source
