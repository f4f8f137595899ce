package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/publicsuffix"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/frame"
	"github.com/mqy/minichat/typing"
)

const (
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// HTTPClient implements Client over the REST API. Credentials go out as a
// bearer token; cookies set by the backend are kept in a jar.
type HTTPClient struct {
	base *url.URL
	auth auth.Client
	hc   *http.Client
}

func NewHTTPClient(base string, a auth.Client, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("fallback: bad api base %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fallback: unsupported api scheme %q", u.Scheme)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		base: u,
		auth: a,
		hc:   &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

func (c *HTTPClient) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = u.Path + APIPrefix + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Resolve turns a file url returned by the API into an absolute one.
func (c *HTTPClient) Resolve(ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	return c.base.ResolveReference(r).String()
}

func (c *HTTPClient) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return err
	}
	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	glog.V(5).Infof("fallback: %s %s: %d, took %s", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fallback: decode %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, path, nil, body, "application/json", out)
}

func (c *HTTPClient) ListConversations(ctx context.Context) ([]chatstore.Conversation, error) {
	var resp struct {
		Results []chatstore.Conversation `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "conversations/", nil, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, conv string, page, pageSize int) (*Page, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var resp struct {
		Count    int                  `json:"count"`
		Next     string               `json:"next"`
		Previous string               `json:"previous"`
		Results  []*frame.WireMessage `json:"results"`
	}
	path := "conversations/" + conv + "/messages/"
	if err := c.do(ctx, http.MethodGet, path, q, nil, "", &resp); err != nil {
		return nil, err
	}
	p := &Page{Count: resp.Count, Next: resp.Next, Previous: resp.Previous}
	for _, w := range resp.Results {
		m := w.ToMessage(conv)
		c.resolveMedia(m)
		p.Messages = append(p.Messages, m)
	}
	return p, nil
}

func (c *HTTPClient) resolveMedia(m *chatstore.Message) {
	if m.File != nil && m.File.URL != "" {
		m.File.URL = c.Resolve(m.File.URL)
	}
	if m.Audio != nil && m.Audio.URL != "" {
		m.Audio.URL = c.Resolve(m.Audio.URL)
	}
}

func (c *HTTPClient) PostMessage(ctx context.Context, m *chatstore.Message) (*chatstore.Message, error) {
	in := frame.FromMessage(m)
	in.ID = ""
	in.SenderID = ""
	in.Conversation = frame.ID(m.ConversationID)
	in.Reactions = nil

	var out frame.WireMessage
	path := "conversations/" + m.ConversationID + "/messages/"
	if err := c.doJSON(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	res := out.ToMessage(m.ConversationID)
	if res.ClientID == "" {
		res.ClientID = m.ClientID
	}
	c.resolveMedia(res)
	return res, nil
}

func (c *HTTPClient) UploadFile(ctx context.Context, name string, r io.Reader) (*Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var resp struct {
		FileURL  string `json:"file_url"`
		FileName string `json:"file_name"`
		FileSize int64  `json:"file_size"`
	}
	if err := c.do(ctx, http.MethodPost, "upload/", nil, &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &Upload{URL: c.Resolve(resp.FileURL), Name: resp.FileName, Size: resp.FileSize}, nil
}

func (c *HTTPClient) AddReaction(ctx context.Context, messageID, emoji string) (*chatstore.Reaction, error) {
	var out frame.WireReaction
	path := "messages/" + messageID + "/reactions/"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, &out); err != nil {
		return nil, err
	}
	r := out.ToReaction()
	if r.MessageID == "" {
		r.MessageID = messageID
	}
	return &r, nil
}

func (c *HTTPClient) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	path := "messages/" + messageID + "/reactions/"
	return c.do(ctx, http.MethodDelete, path, url.Values{"emoji": {emoji}}, nil, "", nil)
}

func (c *HTTPClient) UpdatePresence(ctx context.Context, p typing.Presence) error {
	return c.doJSON(ctx, http.MethodPut, "presence/me/", p, nil)
}

func (c *HTTPClient) TaskStatus(ctx context.Context, id string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "tasks/"+id+"/", nil, nil, "", &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
