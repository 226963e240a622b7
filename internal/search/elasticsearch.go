package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/stocktake/config"
	"example.com/backstage/services/stocktake/internal/models"
)

// ElasticClient indexes counting events for audit search
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
	log    *logrus.Logger
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig, log *logrus.Logger) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
		log:    log,
	}, nil
}

// IndexEvent indexes one counting event. The document carries the chain
// hashes so search results can be cross-checked against the database.
func (c *ElasticClient) IndexEvent(ctx context.Context, event *models.CountingEvent) error {
	doc := map[string]interface{}{
		"event_id":      event.ID,
		"counting_id":   event.CountingID,
		"event_type":    event.EventType,
		"actor_id":      event.ActorID,
		"created_at":    event.CreatedAt,
		"previous_hash": event.PreviousHash,
		"event_hash":    event.EventHash,
	}
	if event.ItemID != nil {
		doc["item_id"] = *event.ItemID
	}
	if len(event.EventData) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(event.EventData, &data); err == nil {
			doc["event_data"] = data
		}
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event document")
	}

	req := esapi.IndexRequest{
		Index:      c.config.EventIndex,
		DocumentID: fmt.Sprintf("%d", event.ID),
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to index event")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("failed to index event %d: %s", event.ID, res.String())
	}

	c.log.WithFields(logrus.Fields{
		"event_id":    event.ID,
		"counting_id": event.CountingID,
	}).Debug("Event indexed")

	return nil
}
