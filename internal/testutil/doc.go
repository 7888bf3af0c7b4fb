// Package testutil builds release bundle fixtures for tests.
package testutil
