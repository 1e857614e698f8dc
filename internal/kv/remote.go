package kv

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRemoteBaseURL is the API root of the managed key-value service.
const DefaultRemoteBaseURL = "https://api.cloudflare.com/client/v4"

// RemoteConfig contains connection settings for a managed namespace.
type RemoteConfig struct {
	BaseURL     string
	AccountID   string
	NamespaceID string
	Token       string
	Timeout     time.Duration
}

// RemoteNamespace talks to a managed key-value namespace over its REST API.
// It satisfies the same contract as the local backends, so deployments can
// switch between them through configuration alone.
type RemoteNamespace struct {
	baseURL     string
	accountID   string
	namespaceID string
	token       string
	httpClient  *http.Client
}

// NewRemote creates a client for a remote managed namespace.
func NewRemote(cfg RemoteConfig) *RemoteNamespace {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultRemoteBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &RemoteNamespace{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accountID:   cfg.AccountID,
		namespaceID: cfg.NamespaceID,
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (ns *RemoteNamespace) valueURL(key string) string {
	return fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s/values/%s",
		ns.baseURL, ns.accountID, ns.namespaceID, url.PathEscape(key))
}

func (ns *RemoteNamespace) keysURL() string {
	return fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s/keys",
		ns.baseURL, ns.accountID, ns.namespaceID)
}

func (ns *RemoteNamespace) request(method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ns.token)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	return ns.httpClient.Do(req)
}

// Get retrieves the raw text value for key. A 404 from the service means the
// key is absent or expired.
func (ns *RemoteNamespace) Get(key string) (string, bool, error) {
	resp, err := ns.request(http.MethodGet, ns.valueURL(key), nil)
	if err != nil {
		return "", false, fmt.Errorf("remote get %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("remote get %q: unexpected status %s", key, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("remote get %q: %w", key, err)
	}
	return string(data), true, nil
}

// GetJSON retrieves the value for key parsed as JSON into out.
func (ns *RemoteNamespace) GetJSON(key string, out any) (bool, error) {
	return getJSON(ns.Get, key, out)
}

// GetBytes retrieves the value for key as a byte slice.
func (ns *RemoteNamespace) GetBytes(key string) ([]byte, bool, error) {
	return getBytes(ns.Get, key)
}

// GetReader retrieves the value for key as a single-chunk stream.
func (ns *RemoteNamespace) GetReader(key string) (io.ReadCloser, bool, error) {
	return getReader(ns.Get, key)
}

// Put stores value under key. A TTL is forwarded as whole seconds in the
// expiration_ttl query parameter, rounded up so short TTLs are not lost.
func (ns *RemoteNamespace) Put(key, value string, opts *PutOptions) error {
	rawURL := ns.valueURL(key)
	if opts != nil && opts.TTL > 0 {
		secs := int64(math.Ceil(opts.TTL.Seconds()))
		rawURL += "?expiration_ttl=" + strconv.FormatInt(secs, 10)
	}

	resp, err := ns.request(http.MethodPut, rawURL, strings.NewReader(value))
	if err != nil {
		return fmt.Errorf("remote put %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote put %q: unexpected status %s", key, resp.Status)
	}
	return nil
}

// PutBytes stores a binary value under key.
func (ns *RemoteNamespace) PutBytes(key string, value []byte, opts *PutOptions) error {
	return ns.Put(key, string(value), opts)
}

// Delete removes the entry for key. A 404 is treated as success so the
// operation stays idempotent.
func (ns *RemoteNamespace) Delete(key string) error {
	resp, err := ns.request(http.MethodDelete, ns.valueURL(key), nil)
	if err != nil {
		return fmt.Errorf("remote delete %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("remote delete %q: unexpected status %s", key, resp.Status)
	}
	return nil
}

// keysPage is the service's response envelope for a key listing request.
type keysPage struct {
	Result     []Key `json:"result"`
	ResultInfo struct {
		Cursor string `json:"cursor"`
	} `json:"result_info"`
}

// List returns descriptors for all keys starting with opts.Prefix, following
// the service's cursor pagination until exhausted.
func (ns *RemoteNamespace) List(opts *ListOptions) ([]Key, error) {
	prefix := ""
	if opts != nil {
		prefix = opts.Prefix
	}

	keys := make([]Key, 0)
	cursor := ""

	for {
		params := url.Values{}
		if prefix != "" {
			params.Set("prefix", prefix)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		rawURL := ns.keysURL()
		if encoded := params.Encode(); encoded != "" {
			rawURL += "?" + encoded
		}

		resp, err := ns.request(http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("remote list: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("remote list: unexpected status %s", resp.Status)
		}

		var page keysPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("remote list: %w", err)
		}

		keys = append(keys, page.Result...)

		cursor = page.ResultInfo.Cursor
		if cursor == "" {
			return keys, nil
		}
	}
}

// Close releases idle connections held by the HTTP client.
func (ns *RemoteNamespace) Close() error {
	ns.httpClient.CloseIdleConnections()
	return nil
}
