package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// ListOptions selects one page of the notification listing.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// scoped is the option set shared by every notification endpoint.
func scoped(method string) RequestOptions {
	return RequestOptions{Method: method, WithAuth: true, WithTenant: true}
}

// ListNotifications fetches one page of the current user's notifications.
func (c *Client) ListNotifications(
	ctx context.Context,
	opts ListOptions,
) (*model.NotificationPage, error) {
	req := scoped(http.MethodGet)
	req.Query = map[string]string{
		"unread_only": strconv.FormatBool(opts.UnreadOnly),
	}
	if opts.Limit > 0 {
		req.Query["limit"] = strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		req.Query["offset"] = strconv.Itoa(opts.Offset)
	}

	var page model.NotificationPage
	if err := c.Request(ctx, "/notifications", req, &page); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return &page, nil
}

// MarkRead marks the given notifications as read.
func (c *Client) MarkRead(
	ctx context.Context,
	ids []string,
) (*model.MarkResult, error) {
	req := scoped(http.MethodPatch)
	req.Body = model.MarkReadRequest{NotificationIDs: ids}

	var result model.MarkResult
	if err := c.Request(ctx, "/notifications/mark-read", req, &result); err != nil {
		return nil, fmt.Errorf("marking notifications read: %w", err)
	}
	return &result, nil
}

// MarkAllRead marks every notification of the user as read.
func (c *Client) MarkAllRead(ctx context.Context) (*model.MarkResult, error) {
	var result model.MarkResult
	if err := c.Request(ctx, "/notifications/mark-all-read", scoped(http.MethodPost), &result); err != nil {
		return nil, fmt.Errorf("marking all notifications read: %w", err)
	}
	return &result, nil
}

// RegisterDevice binds a native push token to the user.
func (c *Client) RegisterDevice(
	ctx context.Context,
	reg model.DeviceRegistration,
) error {
	req := scoped(http.MethodPost)
	req.Body = reg
	if err := c.Request(ctx, "/notifications/devices", req, nil); err != nil {
		return fmt.Errorf("registering push device: %w", err)
	}
	return nil
}
