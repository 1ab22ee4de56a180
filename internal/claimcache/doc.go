// Package claimcache remembers verified cookie claims so repeat requests
// carrying the same cookie skip key derivation.
package claimcache
