// Package api is the HTTP client for the chat backend's listing and room
// creation endpoints. Responses use a {success, data} envelope; any HTTP
// error or malformed body surfaces as a fetch error with an empty result and
// is never retried here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mobilechat/chatsync/core"
)

// DefaultPageLimit is the history page size requested when the caller does
// not specify one.
const DefaultPageLimit = 20

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// Pagination is the paging bound reported by GetMessages.
type Pagination struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
}

// HasMore reports whether pages beyond CurrentPage remain.
func (p Pagination) HasMore() bool {
	return p.CurrentPage < p.TotalPages
}

type messagesData struct {
	Messages   []core.Message `json:"messages"`
	Pagination Pagination     `json:"pagination"`
}

// CreateRoomInput is the body of POST /Chat/CreateRoom.
type CreateRoomInput struct {
	Name           string   `json:"name,omitempty"`
	ParticipantIDs []string `json:"participantIds"`
}

// GetRooms lists the rooms the user participates in, most recently active
// first as ordered by the backend.
func (c *Client) GetRooms(ctx context.Context, userID string) ([]core.Room, error) {
	var rooms []core.Room
	if err := c.get(ctx, "/Chat/GetRooms", nil, userID, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetMessages fetches one page of room history, newest first within the page
// sequence. limit <= 0 falls back to DefaultPageLimit.
func (c *Client) GetMessages(ctx context.Context, roomID string, page, limit int) ([]core.Message, Pagination, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	q := url.Values{}
	q.Set("roomId", roomID)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var data messagesData
	if err := c.get(ctx, "/Chat/GetMessages", q, "", &data); err != nil {
		return nil, Pagination{}, err
	}
	return data.Messages, data.Pagination, nil
}

// GetUsers lists all users known to the backend.
func (c *Client) GetUsers(ctx context.Context, userID string) ([]core.User, error) {
	var users []core.User
	if err := c.get(ctx, "/Chat/GetUsers", nil, userID, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateRoom creates a room with the given participants. Name is optional.
func (c *Client) CreateRoom(ctx context.Context, input CreateRoomInput) (*core.Room, error) {
	b, err := json.Marshal(input)
	if err != nil {
		return nil, core.NewError(core.FetchError, "CreateRoom: encode body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Chat/CreateRoom", bytes.NewReader(b))
	if err != nil {
		return nil, core.NewError(core.FetchError, "CreateRoom: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var room core.Room
	if err := c.do(req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, userID string, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return core.NewError(core.FetchError, fmt.Sprintf("%s: build request", path), err)
	}
	if userID != "" {
		req.Header.Set("user-id", userID)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	path := req.URL.Path

	res, err := c.http.Do(req)
	if err != nil {
		return core.NewError(core.FetchError, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, res.Body)
		return core.NewError(core.FetchError, path,
			fmt.Errorf("unexpected status: %d", res.StatusCode))
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return core.NewError(core.FetchError, fmt.Sprintf("%s: decode response", path), err)
	}
	if !env.Success {
		return core.NewError(core.FetchError, path, fmt.Errorf("backend reported failure"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return core.NewError(core.FetchError, fmt.Sprintf("%s: decode data", path), err)
	}
	return nil
}
