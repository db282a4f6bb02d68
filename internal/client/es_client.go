package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"security-intel/internal/config"
)

type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
	logger *zap.Logger
}

// BulkDoc is one document of a bulk index request.
type BulkDoc struct {
	ID   string
	Body interface{}
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.IsDevelopment(), // Skip verify in dev only
	}

	elasticConfig := elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}

	client, err := elasticsearch.NewClient(elasticConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{
		Client: client,
		config: &esConfig,
		logger: logger,
	}

	if err := esClient.HealthCheck(context.Background()); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	logger.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
		zap.String("index", esConfig.Index),
	)
	return esClient, nil
}

func (e *ESClient) Close() {
	e.logger.Info("Elasticsearch client shutdown")
}

// Index is the configured mirror index.
func (e *ESClient) Index() string {
	return e.config.Index
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// BulkIndex indexes docs into index with one _bulk request. Documents with
// an existing id are overwritten.
func (e *ESClient) BulkIndex(ctx context.Context, index string, docs []BulkDoc) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]map[string]string{"index": {"_index": index, "_id": d.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("error encoding bulk action: %w", err)
		}
		if err := enc.Encode(d.Body); err != nil {
			return fmt.Errorf("error encoding document %s: %w", d.ID, err)
		}
	}

	req := esapi.BulkRequest{Body: &buf}
	res, err := req.Do(ctx, e.Client)
	if err != nil {
		return fmt.Errorf("error executing bulk request: %w", err)
	}

	var out struct {
		Errors bool `json:"errors"`
	}
	if err := e.ParseResponse(res, &out); err != nil {
		return err
	}
	if out.Errors {
		return fmt.Errorf("bulk request to %s reported item errors", index)
	}

	e.logger.Debug("Bulk indexed documents", zap.String("index", index), zap.Int("count", len(docs)))
	return nil
}

func (e *ESClient) ParseResponse(res *esapi.Response, target interface{}) error {
	defer res.Body.Close()

	if res.IsError() {
		var body map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			return fmt.Errorf("error parsing error response: %w", err)
		}
		reason := body["error"]
		if m, ok := reason.(map[string]interface{}); ok {
			reason = m["reason"]
		}
		return fmt.Errorf("elasticsearch error: [%s] %v", res.Status(), reason)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}
