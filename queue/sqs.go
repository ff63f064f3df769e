package queue

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// sqsAPI is the subset of the SQS client used here.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSender publishes to an Amazon SQS queue.
type SQSSender struct {
	client   sqsAPI
	queueURL string
	fifo     bool
}

// NewSQSSender loads the default AWS credential chain for opts.Region.
func NewSQSSender(ctx context.Context, queueURL string, opts Options) (*SQSSender, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
	})
	return newSQSSender(client, queueURL), nil
}

func newSQSSender(client sqsAPI, queueURL string) *SQSSender {
	return &SQSSender{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

func (s *SQSSender) Send(ctx context.Context, msg Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(msg.Body),
	}
	if s.fifo {
		group := msg.Key
		if group == "" {
			group = "default"
		}
		input.MessageGroupId = aws.String(group)
		input.MessageDeduplicationId = aws.String(uuid.NewString())
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return errors.Wrap(err, "sqs send message")
	}
	return nil
}

// Close is a no-op; the SQS client holds no connection of its own.
func (s *SQSSender) Close() error { return nil }
