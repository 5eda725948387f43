// Package server exposes the deployment runner over HTTP.
//
// Routes:
//   - GET  /health           lists the loaded targets
//   - GET  /status/{target}  processed revision and recent deployments
//   - POST /deploy/{target}  manual trigger, authenticated with the target
//     secret as a bearer token
//   - POST /in/{target}      GitHub push webhook, HMAC-SHA256 signed with
//     the target secret
//
// Triggers never queue: a target that is already deploying answers 409 and
// the refusal is recorded in the history. Requests are rate limited per
// client IP.
package server
