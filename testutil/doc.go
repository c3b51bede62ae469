// Package testutil provides shared test helpers: deadline-bound test
// contexts and a scripted stand-in for the upstream completion API.
package testutil
