// Package queue provides the transports readings are published through.
// Every Sender is safe for concurrent use by all sensor workers.
package queue

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Message is one payload handed to a transport.
type Message struct {
	// Body is sent verbatim. It is not required to be valid JSON.
	Body string
	// Key groups messages of one device (partition key, FIFO group id).
	Key string
}

// Sender transmits messages to a single queue endpoint.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Kind is the transport family selected from the endpoint scheme.
type Kind string

const (
	KindSQS    Kind = "sqs"
	KindKafka  Kind = "kafka"
	KindMQTT   Kind = "mqtt"
	KindStdout Kind = "stdout"
)

// Options configures transport construction.
type Options struct {
	// Region and EndpointURL are used by SQS only.
	Region      string
	EndpointURL string
	// ClientID is the MQTT client identifier.
	ClientID string
	Logger   *zap.Logger
}

// Endpoint is a parsed queue address.
type Endpoint struct {
	Kind    Kind
	URL     string
	Brokers []string
	Topic   string
}

// ParseEndpoint resolves the transport for a queue address.
//
//	https://sqs.us-east-1.amazonaws.com/123/q   SQS
//	kafka://host1:9092,host2:9092/topic         Kafka
//	mqtt://host:1883/topic (tcp, mqtts, ssl)    MQTT
//	stdout:// or log://                         log only
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Endpoint{}, errors.Errorf("queue url %q has no scheme", raw)
	}

	switch strings.ToLower(scheme) {
	case "http", "https":
		return Endpoint{Kind: KindSQS, URL: raw}, nil
	case "kafka":
		hosts, topic, _ := strings.Cut(rest, "/")
		brokers := splitCSV(hosts)
		topic = strings.Trim(topic, "/")
		if len(brokers) == 0 || topic == "" {
			return Endpoint{}, errors.Errorf("kafka url %q must look like kafka://broker[,broker]/topic", raw)
		}
		return Endpoint{Kind: KindKafka, URL: raw, Brokers: brokers, Topic: topic}, nil
	case "mqtt", "tcp", "mqtts", "ssl", "tls":
		u, err := url.Parse(raw)
		if err != nil {
			return Endpoint{}, errors.Wrap(err, "parse mqtt url")
		}
		topic := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || topic == "" {
			return Endpoint{}, errors.Errorf("mqtt url %q must look like mqtt://host:port/topic", raw)
		}
		brokerScheme := "tcp"
		if s := strings.ToLower(scheme); s == "mqtts" || s == "ssl" || s == "tls" {
			brokerScheme = "ssl"
		}
		return Endpoint{Kind: KindMQTT, URL: raw, Brokers: []string{brokerScheme + "://" + u.Host}, Topic: topic}, nil
	case "stdout", "log":
		return Endpoint{Kind: KindStdout, URL: raw}, nil
	default:
		return Endpoint{}, errors.Errorf("unsupported queue scheme %q", scheme)
	}
}

// New builds the Sender for queueURL.
func New(ctx context.Context, queueURL string, opts Options) (Sender, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ep, err := ParseEndpoint(queueURL)
	if err != nil {
		return nil, err
	}

	switch ep.Kind {
	case KindSQS:
		return NewSQSSender(ctx, ep.URL, opts)
	case KindKafka:
		return NewKafkaSender(ep.Brokers, ep.Topic), nil
	case KindMQTT:
		return NewMQTTSender(ep.Brokers[0], ep.Topic, opts)
	default:
		return NewLogSender(opts.Logger), nil
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
