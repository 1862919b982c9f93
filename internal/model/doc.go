// Package model defines the domain types shared across the relay:
// sale state fields, decoded stream events, and purchase records.
package model
