// Package httpstore talks to the document store service over HTTP.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"private_feed/internal/model"
	"private_feed/internal/repository"
	"private_feed/internal/utils/log"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

type (
	Client struct {
		base *url.URL
		hc   *http.Client
	}

	createRequest struct {
		OwnerID string            `json:"ownerId"`
		Fields  repository.Fields `json:"fields"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

var _ repository.Store = (*Client)(nil)

// New returns a client for the service at baseURL. A nil hc uses
// http.DefaultClient.
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, hc: hc}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != want {
		var e errorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		if resp.StatusCode == http.StatusNotFound {
			return repository.ErrNotFound
		}
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Get(ctx context.Context, docType repository.DocumentType, filter repository.Filter) ([]repository.Document, error) {
	if !docType.Valid() {
		return nil, repository.ErrUnknownType
	}
	query := url.Values{}
	for k, v := range filter {
		query.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/docs/"+url.PathEscape(string(docType)), query), nil)
	if err != nil {
		return nil, err
	}
	var docs []repository.Document
	if err := c.do(req, http.StatusOK, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) Create(ctx context.Context, docType repository.DocumentType, owner model.Identity, fields repository.Fields) (repository.Document, error) {
	if !docType.Valid() {
		return repository.Document{}, repository.ErrUnknownType
	}
	body, err := json.Marshal(createRequest{OwnerID: owner.String(), Fields: fields})
	if err != nil {
		return repository.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/docs/"+url.PathEscape(string(docType)), nil), bytes.NewReader(body))
	if err != nil {
		return repository.Document{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var doc repository.Document
	if err := c.do(req, http.StatusCreated, &doc); err != nil {
		return repository.Document{}, err
	}
	return doc, nil
}

func (c *Client) Delete(ctx context.Context, id string, owner model.Identity) error {
	query := url.Values{"owner": {owner.String()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/docs/"+url.PathEscape(id), query), nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

// Watch streams change events until ctx is done or the connection drops.
// A zero owner watches every feed. onConnect, when set, runs once the
// stream is established; no later write is missed from that point.
func (c *Client) Watch(ctx context.Context, owner model.Identity, onConnect func(), fn func(repository.Event)) error {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = c.base.Path + "/watch"
	if !owner.IsZero() {
		u.RawQuery = url.Values{"owner": {owner.String()}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if onConnect != nil {
		onConnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev repository.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug("watch socket closed", zap.Error(err))
			return err
		}
		fn(ev)
	}
}
