package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// SNSProvider publishes to SNS platform endpoints. A device token is the
// endpoint ARN created when the mobile app registered with the platform
// application.
type SNSProvider struct {
	client *sns.Client
	logger *zap.Logger
}

// SNSConfig holds provider settings.
type SNSConfig struct {
	Region string
}

// NewSNSProvider creates an SNS-backed push provider.
func NewSNSProvider(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	return &SNSProvider{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Push publishes the message to each endpoint. Disabled or malformed
// endpoints come back wrapped as permanent; everything else is transient.
func (p *SNSProvider) Push(ctx context.Context, tokens []string, msg Message) ([]error, error) {
	payload, err := encodePayload(msg)
	if err != nil {
		return nil, fmt.Errorf("encode push payload: %w", err)
	}

	results := make([]error, len(tokens))
	for i, token := range tokens {
		_, err := p.client.Publish(ctx, &sns.PublishInput{
			TargetArn:        aws.String(token),
			Message:          aws.String(payload),
			MessageStructure: aws.String("json"),
		})
		if err != nil {
			results[i] = classify(err)
			continue
		}
	}
	return results, nil
}

// classify maps an SNS publish error to permanent or transient.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "EndpointDisabled", "InvalidParameter", "NotFound":
			// the endpoint will never accept another publish
			return Permanent(err)
		}
	}
	return err
}

// encodePayload builds the per-platform SNS message structure.
func encodePayload(msg Message) (string, error) {
	apnsPriority := "5"
	if msg.Priority == "high" || msg.Priority == "critical" {
		apnsPriority = "10"
	}

	notification := map[string]any{
		"title": msg.Title,
		"body":  msg.Body,
	}

	gcm, err := json.Marshal(map[string]any{
		"notification": notification,
		"data":         msg.Data,
		"priority":     msg.Priority,
	})
	if err != nil {
		return "", err
	}

	apns, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": notification,
		},
		"data":     msg.Data,
		"priority": apnsPriority,
	})
	if err != nil {
		return "", err
	}

	wrapper, err := json.Marshal(map[string]string{
		"default": msg.Body,
		"GCM":     string(gcm),
		"APNS":    string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(wrapper), nil
}
