// Package icd queries the WHO ICD-11 API for candidate target codes.
package icd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"yashubustudio/termmap/internal/logging"
	"yashubustudio/termmap/resolver"
)

const (
	DefaultTokenURL = "https://icdaccessmanagement.who.int/connect/token"
	DefaultBaseURL  = "https://id.who.int/icd/release/11/2024-01"
	defaultTimeout  = 15 * time.Second
	scope           = "icdapi_access"
	apiVersion      = "v2"
)

// Config holds ICD API credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string
	Language     string
	Timeout      time.Duration
	Flexisearch  bool
}

// Configured reports whether credentials are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// Client searches the MMS linearization. It satisfies resolver.CandidateSource.
type Client struct {
	http     *http.Client
	baseURL  string
	language string
	flexi    bool
	sanitize *bluemonday.Policy
	logger   *zap.Logger
}

var _ resolver.CandidateSource = (*Client)(nil)

// NewClient builds a client whose transport fetches and refreshes OAuth2
// tokens with the client-credentials grant.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if !cfg.Configured() {
		return nil, errors.New("icd: client id and secret are required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{scope},
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = cfg.Timeout
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		language: cfg.Language,
		flexi:    cfg.Flexisearch,
		sanitize: bluemonday.StrictPolicy(),
		logger:   logging.OrNop(logger),
	}, nil
}

// Search runs a flexisearch query and returns the destination entities in API order.
func (c *Client) Search(ctx context.Context, text string) ([]resolver.TargetCandidate, error) {
	query := url.Values{}
	query.Set("q", text)
	query.Set("useFlexisearch", strconv.FormatBool(c.flexi))
	query.Set("flatResults", "true")
	path := "/mms/search"
	if c.flexi {
		path = "/mms/flexisearch"
	}
	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", c.language)
	req.Header.Set("API-Version", apiVersion)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: icd search: %w", resolver.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: icd search: status %d: %s",
			resolver.ErrCollaboratorUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: icd search: decode: %w", resolver.ErrCollaboratorUnavailable, err)
	}
	if payload.Error {
		return nil, fmt.Errorf("%w: icd search: %s", resolver.ErrCollaboratorUnavailable, payload.ErrorMessage)
	}

	out := make([]resolver.TargetCandidate, 0, len(payload.DestinationEntities))
	for _, ent := range payload.DestinationEntities {
		code := strings.TrimSpace(ent.TheCode)
		if code == "" {
			continue
		}
		uri := ent.ID
		if uri == "" {
			uri = ent.AtID
		}
		out = append(out, resolver.TargetCandidate{
			Code:  code,
			Title: c.cleanTitle(string(ent.Title)),
			URI:   uri,
		})
	}
	c.logger.Debug("icd search",
		zap.String("query", text),
		zap.Int("results", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// cleanTitle strips the <em class='found'> highlighting the API adds.
func (c *Client) cleanTitle(raw string) string {
	plain := html.UnescapeString(c.sanitize.Sanitize(raw))
	return strings.Join(strings.Fields(plain), " ")
}

type searchResponse struct {
	Error               bool         `json:"error"`
	ErrorMessage        string       `json:"errorMessage"`
	DestinationEntities []destEntity `json:"destinationEntities"`
}

type destEntity struct {
	ID      string     `json:"id"`
	AtID    string     `json:"@id"`
	TheCode string     `json:"theCode"`
	Title   langString `json:"title"`
}

// langString accepts either a bare string or a {"@language","@value"} object.
type langString string

func (l *langString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = langString(s)
		return nil
	}
	var obj struct {
		Value string `json:"@value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = langString(obj.Value)
	return nil
}
