// Package api exposes the REST surface of the relay: fee estimation,
// intent submission, journal queries, and transaction confirmation
// lookups, with bearer-token authentication and request metrics.
package api
