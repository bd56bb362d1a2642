package xclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"rugguard/internal/model"
)

// UserClient performs user-context calls (posting replies) signed with OAuth 1.0a.
type UserClient struct {
	Base           *HTTPClient
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	nowFn          func() time.Time
	nonceFn        func() string
}

func NewUserClient(base *HTTPClient, ck, cs, at, as string) *UserClient {
	return &UserClient{
		Base:           base,
		ConsumerKey:    ck,
		ConsumerSecret: cs,
		AccessToken:    at,
		AccessSecret:   as,
		nowFn:          time.Now,
		nonceFn:        func() string { return strconv.FormatInt(rand.Int63(), 36) },
	}
}

func (c *UserClient) hasCredentials() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

// CreateReply posts text as a reply to the given post and returns the new post id.
// Posting is attempted once; a failed reply is never retried in the same cycle.
func (c *UserClient) CreateReply(ctx context.Context, inReplyToPostID, text string) (string, error) {
	const endpoint = "POST /tweets"
	if !c.hasCredentials() {
		return "", &APIError{Endpoint: endpoint, Kind: ErrForbidden, Err: errors.New("missing OAuth 1.0a user credentials")}
	}
	var body struct {
		Text  string `json:"text"`
		Reply struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		} `json:"reply"`
	}
	body.Text = text
	body.Reply.InReplyToTweetID = inReplyToPostID
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base.baseURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.oauth1Sign(req)
	var raw struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := c.Base.send(ctx, endpoint, req, 1, &raw); err != nil {
		return "", err
	}
	if raw.Data.ID == "" {
		return "", fmt.Errorf("%s: empty response data", endpoint)
	}
	return raw.Data.ID, nil
}

// GetMe verifies the user credentials and returns the authenticated account.
func (c *UserClient) GetMe(ctx context.Context) (model.User, error) {
	const endpoint = "/users/me"
	if !c.hasCredentials() {
		return model.User{}, &APIError{Endpoint: endpoint, Kind: ErrForbidden, Err: errors.New("missing OAuth 1.0a user credentials")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base.baseURL+"/users/me", nil)
	if err != nil {
		return model.User{}, err
	}
	c.oauth1Sign(req)
	var raw struct {
		Data apiUser `json:"data"`
	}
	if err := c.Base.send(ctx, endpoint, req, c.Base.maxAttempts, &raw); err != nil {
		return model.User{}, err
	}
	return raw.Data.ref(), nil
}

// oauth1Sign adds an OAuth 1.0a HMAC-SHA1 Authorization header. Query parameters are
// part of the signature base; JSON bodies are not.
func (c *UserClient) oauth1Sign(req *http.Request) {
	oauth := map[string]string{
		"oauth_consumer_key":     c.ConsumerKey,
		"oauth_nonce":            c.nonceFn(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(c.nowFn().Unix(), 10),
		"oauth_token":            c.AccessToken,
		"oauth_version":          "1.0",
	}
	all := map[string]string{}
	for k, v := range oauth {
		all[k] = v
	}
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			all[k] = vs[0]
		}
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	paramParts := make([]string, 0, len(keys))
	for _, k := range keys {
		paramParts = append(paramParts, rfc3986(k)+"="+rfc3986(all[k]))
	}
	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	base := req.Method + "&" + rfc3986(baseURL) + "&" + rfc3986(strings.Join(paramParts, "&"))
	signingKey := rfc3986(c.ConsumerSecret) + "&" + rfc3986(c.AccessSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	_, _ = mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	hdrKeys := make([]string, 0, len(oauth))
	for k := range oauth {
		hdrKeys = append(hdrKeys, k)
	}
	sort.Strings(hdrKeys)
	authParts := make([]string, 0, len(hdrKeys))
	for _, k := range hdrKeys {
		authParts = append(authParts, fmt.Sprintf("%s=\"%s\"", rfc3986(k), rfc3986(oauth[k])))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(authParts, ", "))
	req.Header.Set("Accept", "application/json")
}

// RFC 3986 percent-encoding for OAuth
func rfc3986(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(url.QueryEscape(s), "+", "%20"), "*", "%2A")
}
