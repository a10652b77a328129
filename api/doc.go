// Package api serves validator status, accepted checkpoints and Prometheus
// metrics over HTTP.
package api
