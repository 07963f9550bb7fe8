// Package generate implements the request/response Gemini calls that sit
// beside the live session: text chat with a bounded history, single image
// generation and long-running video generation with operation polling.
// Requests share a concurrency limit and retry rate limiting and server
// errors with exponential backoff.
package generate
