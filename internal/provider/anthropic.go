package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/flumehq/flume/pkg/models"
)

// AnthropicConfig contains settings for an Anthropic-backed provider.
type AnthropicConfig struct {
	// Model is the model identifier to invoke.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// MaxTokens caps the response size. Defaults to 4096.
	MaxTokens int64
	// UseAWSBedrock routes calls through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// AnthropicProvider adapts one Anthropic model to the CapabilityProvider
// boundary. Cost is accounted per thousand tokens against the
// descriptor's cost-per-unit.
type AnthropicProvider struct {
	desc      Descriptor
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicProvider creates a provider backed by the Anthropic API or
// AWS Bedrock.
func NewAnthropicProvider(desc Descriptor, cfg AnthropicConfig) (*AnthropicProvider, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", desc.ID)
	}

	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("provider %s: ANTHROPIC_API_KEY is not set", desc.ID)
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicProvider{
		desc:      desc,
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
	}, nil
}

// ID implements CapabilityProvider.
func (p *AnthropicProvider) ID() string { return p.desc.ID }

// Tier implements CapabilityProvider.
func (p *AnthropicProvider) Tier() models.Tier { return p.desc.Tier }

// CostPerUnit implements CapabilityProvider.
func (p *AnthropicProvider) CostPerUnit() float64 { return p.desc.CostPerUnit }

// Invoke implements CapabilityProvider.
func (p *AnthropicProvider) Invoke(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionResult, error) {
	start := time.Now()

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Payload)),
		},
	})
	if err != nil {
		return nil, p.classify(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}

	units := float64(resp.Usage.InputTokens+resp.Usage.OutputTokens) / 1000.0

	return &models.ExecutionResult{
		RequestID:  req.ID,
		Output:     sb.String(),
		ProviderID: p.desc.ID,
		Tier:       p.desc.Tier,
		Cost:       units * p.desc.CostPerUnit,
		Latency:    time.Since(start),
	}, nil
}

// classify maps SDK failures onto the provider error taxonomy.
func (p *AnthropicProvider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTimeout, p.desc.ID, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return NewError(KindRateLimited, p.desc.ID, err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return NewError(KindUnauthorized, p.desc.ID, err)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return NewError(KindInvalidRequest, p.desc.ID, err)
		default:
			return NewError(KindUnavailable, p.desc.ID, err)
		}
	}

	// Network-level failures are transient.
	return NewError(KindUnavailable, p.desc.ID, err)
}
