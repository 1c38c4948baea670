// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/oops"
)

// Client is the CRM contact API.
type Client interface {
	// CreateContact creates (or matches) a contact for email and returns its id.
	CreateContact(ctx context.Context, email string) (string, error)
	// SetSegment adds the contact to segment, or removes it when add is false.
	SetSegment(ctx context.Context, contactID, segment string, add bool) error
}

// MauticConfig addresses a Mautic instance.
type MauticConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// MauticClient talks to the Mautic REST API with basic auth.
type MauticClient struct {
	http *resty.Client
}

// NewMauticClient creates a client for cfg.
func NewMauticClient(cfg MauticConfig) (*MauticClient, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.Code("CRM_CONFIG_INVALID").With("base_url", cfg.BaseURL).Errorf("crm base url must be absolute")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(base.String()).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &MauticClient{http: client}, nil
}

type contactResponse struct {
	Contact struct {
		ID json.Number `json:"id"`
	} `json:"contact"`
}

// CreateContact implements Client.
func (c *MauticClient) CreateContact(ctx context.Context, email string) (string, error) {
	var resp contactResponse
	if err := c.post(ctx, "/api/contacts/new", map[string]string{"email": email}, &resp); err != nil {
		return "", oops.Code("CRM_CREATE_CONTACT_FAILED").Wrap(err)
	}
	id := resp.Contact.ID.String()
	if id == "" {
		return "", oops.Code("CRM_CREATE_CONTACT_FAILED").Errorf("response carried no contact id")
	}
	return id, nil
}

type segmentResponse struct {
	Success json.Number `json:"success"`
}

// SetSegment implements Client.
func (c *MauticClient) SetSegment(ctx context.Context, contactID, segment string, add bool) error {
	action := "remove"
	if add {
		action = "add"
	}
	path := fmt.Sprintf("/api/segments/%s/contact/%s/%s",
		url.PathEscape(segment), url.PathEscape(contactID), action)

	var resp segmentResponse
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return oops.Code("CRM_SET_SEGMENT_FAILED").With("action", action).Wrap(err)
	}
	if ok, _ := strconv.Atoi(resp.Success.String()); ok != 1 {
		return oops.Code("CRM_SET_SEGMENT_FAILED").With("action", action).Errorf("crm reported failure")
	}
	return nil
}

func (c *MauticClient) post(ctx context.Context, path string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		ForceContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Post(path)
	if err != nil {
		return oops.Code("CRM_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	if !resp.IsSuccess() {
		snippet := resp.String()
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return oops.Code("CRM_BAD_STATUS").
			With("path", path).
			With("status", resp.StatusCode()).
			Errorf("crm returned %d: %s", resp.StatusCode(), strings.TrimSpace(snippet))
	}
	return nil
}

// Compile-time interface check.
var _ Client = (*MauticClient)(nil)
