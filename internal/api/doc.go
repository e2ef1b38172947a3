// Package api exposes the coordination engine to collaborators over
// HTTP. One route per engine operation, JSON in and out.
//
// The caller's instance identity arrives in the X-Claudenest-Instance
// header; verifying it is the identity layer's job, not ours. Errors
// from the engine's taxonomy map to dedicated status codes so clients
// can react without parsing messages: 409 conflict, 403 not holder,
// 404 not found, 429 capacity, 503 machine offline, 422 invalid
// transition.
package api
