package bnf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/medicost/medtrack/internal/config"
	"github.com/medicost/medtrack/internal/medication/domain"
	"github.com/medicost/medtrack/internal/observability/metrics"
	"go.uber.org/zap"
)

// Client fetches rows from the NHSBSA open-data datastore_search endpoint.
type Client struct {
	baseURL string
	token   string
	limit   int
	httpc   *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	limit := cfg.BNFPageLimit
	if limit <= 0 {
		limit = 1000
	}
	return &Client{
		baseURL: cfg.BNFAPIURL,
		token:   cfg.BNFAPIToken,
		limit:   limit,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		log:     log.Named("bnf.client"),
	}
}

type searchResponse struct {
	Success *bool `json:"success"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
	Result *struct {
		Records []map[string]interface{} `json:"records"`
	} `json:"result"`
}

// FetchAll pages through the datastore resource until a short page signals
// the end. The API has no reliable "has more" flag, so the page size is the
// terminal condition. Any transport failure aborts the whole fetch; a
// silently truncated result set would poison downstream reconciliation.
func (c *Client) FetchAll(ctx context.Context, resourceID string) ([]map[string]interface{}, error) {
	var all []map[string]interface{}
	offset := 0

	for {
		records, err := c.fetchPage(ctx, resourceID, offset)
		if err != nil {
			return nil, err
		}

		all = append(all, records...)
		metrics.HierarchyRowsFetched.Add(float64(len(records)))

		if len(records) < c.limit {
			break
		}
		offset += c.limit
		c.log.Info("fetched page",
			zap.String("resource_id", resourceID),
			zap.Int("records_so_far", len(all)),
		)
	}

	c.log.Info("finished fetching resource",
		zap.String("resource_id", resourceID),
		zap.Int("records", len(all)),
	)
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, resourceID string, offset int) ([]map[string]interface{}, error) {
	params := url.Values{}
	params.Set("resource_id", resourceID)
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &domain.ExternalServiceError{Endpoint: c.baseURL, Err: err}
	}
	req.Header.Set("content-type", "application/json")
	if c.token != "" {
		req.Header.Set("authorization", c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &domain.ExternalServiceError{Endpoint: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ExternalServiceError{
			Endpoint: c.baseURL,
			Err:      fmt.Errorf("unexpected status %d at offset %d", resp.StatusCode, offset),
		}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &domain.DataFormatError{
			Source: c.baseURL,
			Detail: fmt.Sprintf("response is not valid JSON: %v", err),
		}
	}

	if payload.Success == nil {
		return nil, &domain.DataFormatError{
			Source: c.baseURL,
			Detail: "response missing success flag",
		}
	}
	if !*payload.Success {
		message := "unknown error"
		if payload.Error != nil && payload.Error.Message != "" {
			message = payload.Error.Message
		}
		return nil, &domain.ExternalServiceError{
			Endpoint: c.baseURL,
			Err:      fmt.Errorf("API request failed: %s", message),
		}
	}
	if payload.Result == nil || payload.Result.Records == nil {
		return nil, &domain.DataFormatError{
			Source: c.baseURL,
			Detail: "response missing result.records",
		}
	}

	return payload.Result.Records, nil
}
