package assets

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
)

const (
	azureAPIVersion = "2021-08-06"
	azureMaxResults = "5000"
	// a listing never follows more than this many continuation markers
	azureMaxPages = 100
)

// listBlobsResult is the subset of the List Blobs response we read.
type listBlobsResult struct {
	XMLName xml.Name `xml:"EnumerationResults"`
	Blobs   []struct {
		Name string `xml:"Name"`
	} `xml:"Blobs>Blob"`
	NextMarker string `xml:"NextMarker"`
}

// AzureStore lists blobs in an Azure Storage container using a SAS token.
type AzureStore struct {
	client    *resty.Client
	endpoint  string
	container string
	timeout   time.Duration
	sas       url.Values
}

// NewAzureStore returns a store for the configured container.
func NewAzureStore(settings conf.AzureStoreSettings) (*AzureStore, error) {
	if settings.Container == "" {
		return nil, storeError(fmt.Errorf("azure container is required"), "azure", "configure")
	}

	endpoint := settings.Endpoint
	if endpoint == "" {
		if settings.Account == "" {
			return nil, storeError(fmt.Errorf("azure account or endpoint is required"), "azure", "configure")
		}
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", settings.Account)
	}

	sas, err := url.ParseQuery(strings.TrimPrefix(settings.SASToken, "?"))
	if err != nil {
		return nil, storeError(fmt.Errorf("invalid SAS token: %w", err), "azure", "configure")
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(endpoint, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("x-ms-version", azureAPIVersion)

	return &AzureStore{
		client:    client,
		endpoint:  endpoint,
		container: settings.Container,
		timeout:   timeout,
		sas:       sas,
	}, nil
}

// Name implements Lister.
func (s *AzureStore) Name() string { return "azure" }

// List implements Lister, following continuation markers.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	marker := ""

	for range azureMaxPages {
		page, err := s.listPage(ctx, prefix, marker)
		if err != nil {
			return nil, err
		}
		for _, b := range page.Blobs {
			names = append(names, b.Name)
		}
		if page.NextMarker == "" {
			return names, nil
		}
		marker = page.NextMarker
	}
	return names, nil
}

func (s *AzureStore) listPage(ctx context.Context, prefix, marker string) (*listBlobsResult, error) {
	req := s.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(s.sas).
		SetQueryParam("restype", "container").
		SetQueryParam("comp", "list").
		SetQueryParam("prefix", prefix).
		SetQueryParam("maxresults", azureMaxResults)
	if marker != "" {
		req.SetQueryParam("marker", marker)
	}

	resp, err := req.Get("/" + url.PathEscape(s.container))
	if err != nil {
		return nil, s.requestError(err)
	}
	if resp.IsError() {
		return nil, s.requestError(fmt.Errorf("list blobs returned %s", resp.Status()))
	}

	var result listBlobsResult
	body := bytes.TrimPrefix(resp.Body(), []byte("\xef\xbb\xbf"))
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, storeError(fmt.Errorf("decode list blobs response: %w", err), s.Name(), "decode")
	}
	return &result, nil
}

// requestError tags a failed listing request with the endpoint kind and
// client timeout. The SAS token never reaches the error context.
func (s *AzureStore) requestError(err error) error {
	return errors.New(err).
		Component("assets").
		Category(errors.CategoryObjectStore).
		Context("backend", s.Name()).
		Context("operation", "list").
		NetworkContext(s.endpoint, s.timeout).
		Build()
}
