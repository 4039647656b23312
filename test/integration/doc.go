// Package integration contains integration tests for the SSO ticket service.
//
// These tests use testcontainers to spin up real dependencies (Redis) and
// exercise the Redis ticket registry and service cache against an environment
// that closely matches production.
package integration
