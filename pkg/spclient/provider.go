package spclient

import (
	"github.com/rs/zerolog/log"
)

// Provider is the client context shared by all sessions of one consumer.
// It exposes a ready-to-use client handle, an initialization-complete flag,
// the initialization error if any, and the resolved site URL. Sessions
// consume it read-only; a Provider is created once on mount and passed by
// reference into every session deriving from it.
type Provider struct {
	client  *Client
	ready   bool
	initErr error
	baseURL string
}

// NewProvider initializes a client from cfg and records the outcome.
// Initialization failure does not return an error here: sessions observe it
// through Client() on first use, mirroring the guard semantics they need.
func NewProvider(cfg Config) *Provider {
	client, err := New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("SharePoint client initialization failed")
		return &Provider{
			initErr: err,
			baseURL: cfg.BaseURL,
		}
	}

	return &Provider{
		client:  client,
		ready:   true,
		baseURL: client.BaseURL(),
	}
}

// Ready reports whether initialization completed successfully.
func (p *Provider) Ready() bool {
	return p.ready
}

// InitErr returns the initialization error, if any.
func (p *Provider) InitErr() error {
	return p.initErr
}

// BaseURL returns the resolved site URL.
func (p *Provider) BaseURL() string {
	return p.baseURL
}

// Client returns the shared client handle, or ErrNotReady (wrapping the
// initialization error when one exists) if the provider is not usable.
func (p *Provider) Client() (*Client, error) {
	if !p.ready || p.client == nil {
		if p.initErr != nil {
			return nil, &RequestError{
				ErrorClass: ErrorClassClient,
				Endpoint:   "init",
				Message:    "client context unusable",
				Err:        ErrNotReady,
			}
		}
		return nil, ErrNotReady
	}
	return p.client, nil
}
