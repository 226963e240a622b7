package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"example.com/backstage/services/stocktake/config"
)

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}, sessionID string) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client     *azservicebus.Client
	sender     *azservicebus.Sender
	queueName  string
	clientType string
}

// mockServiceBusClient is a no-op implementation for local development
type mockServiceBusClient struct {
	clientType string
}

// NewServiceBusClient creates a new Azure Service Bus client. Without a
// connection string it returns a no-op client so the service runs locally.
func NewServiceBusClient(cfg config.ServiceBusConfig, clientType string) (ServiceBusClient, error) {
	if cfg.ConnectionString == "" {
		return &mockServiceBusClient{clientType: clientType}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusClient{
		client:     client,
		sender:     sender,
		queueName:  cfg.QueueName,
		clientType: clientType,
	}, nil
}

// generateSessionID generates a random session ID if none is provided
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// SendMessage sends a message to the Service Bus queue
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	if sessionID == "" {
		sessionID = generateSessionID()
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": s.clientType,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
		SessionID: &sessionID,
	}

	return s.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

// SendMessage on the mock client discards the message
func (m *mockServiceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	return nil
}

// Close on the mock client is a no-op
func (m *mockServiceBusClient) Close() error {
	return nil
}

// Notification topics published by the stocktake service
const (
	TopicCountingFinalized = "counting.finalized"
	TopicCountingCancelled = "counting.cancelled"
	TopicAssignmentOverdue = "assignment.overdue"
)

// Notification is the envelope for downstream stocktake notifications
type Notification struct {
	Topic      string      `json:"topic"`
	CountingID uint        `json:"counting_id"`
	CompanyID  uint        `json:"company_id"`
	Payload    interface{} `json:"payload,omitempty"`
	Time       time.Time   `json:"time"`
}
