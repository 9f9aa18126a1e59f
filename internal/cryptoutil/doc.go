// Package cryptoutil holds small hashing helpers shared by bundle
// verification and the registry manifest loader.
package cryptoutil
