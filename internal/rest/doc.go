// Package rest is a small read-only client for the HTTP resource API that
// sits beside the gateway.
//
// It discovers the gateway endpoint and recommended shard count
// (GatewayBot) and fetches channels for decoded messages. Responses with
// status 429 are retried after the server's retry_after hint, up to
// Options.MaxRetries times; past that a *RateLimitedError is returned.
//
// Client implements entity.ResourceClient, so it can be handed to the
// gateway decoder and attached to decoded messages.
package rest
