// Package httpc provides shared HTTP clients with sensible defaults.
// Use these instead of http.DefaultClient so every request is bounded.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	// LongPollTimeout bounds a long-poll request. It has to exceed the
	// server-side poll window (120s for the bot) with some slack.
	LongPollTimeout = 130 * time.Second
)

// Client is a shared HTTP client for short request/response calls.
var Client = NewClient(DefaultTimeout)

// LongPoll is a shared HTTP client for long-poll endpoints.
var LongPoll = NewClient(LongPollTimeout)

// NewClient creates a new HTTP client with the specified overall timeout.
// For most cases, use the shared Client variable instead.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
