package simabus

import (
	"context"

	runtimepkg "github.com/drblury/simabus/internal/runtime"
	configpkg "github.com/drblury/simabus/internal/runtime/config"
	"github.com/drblury/simabus/internal/runtime/envelope"
	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	idspkg "github.com/drblury/simabus/internal/runtime/ids"
	jsoncodec "github.com/drblury/simabus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	metadatapkg "github.com/drblury/simabus/internal/runtime/metadata"
	"github.com/drblury/simabus/topics"
	"github.com/drblury/simabus/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Producer            = runtimepkg.Producer
	Handler             = runtimepkg.Handler
	Subscription        = runtimepkg.Subscription
	SubscriptionState   = runtimepkg.SubscriptionState
	RetryConfig         = runtimepkg.RetryConfig
	Metrics             = runtimepkg.Metrics

	Envelope       = envelope.Envelope
	PublishOption  = envelope.Option
	PartitionKeyer = envelope.PartitionKeyer

	Metadata = metadatapkg.Metadata
	Topic    = topics.Topic

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	EncodingError         = errspkg.EncodingError
	DecodingError         = errspkg.DecodingError
	ConnectionError       = errspkg.ConnectionError
	PublishError          = errspkg.PublishError
	HandlerError          = errspkg.HandlerError
	ConfigValidationError = errspkg.ConfigValidationError

	TransportDriver       = transport.Driver
	TransportConfig       = transport.Config
	TransportConsumer     = transport.Consumer
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares  = runtimepkg.DefaultMiddlewares
	RetryMiddleware     = runtimepkg.RetryMiddleware
	RecovererMiddleware = runtimepkg.RecovererMiddleware

	WithKey           = envelope.WithKey
	WithCorrelationID = envelope.WithCorrelationID

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrEncoding          = errspkg.ErrEncoding
	ErrDecoding          = errspkg.ErrDecoding
	ErrConnection        = errspkg.ErrConnection
	ErrPublish           = errspkg.ErrPublish
	ErrHandler           = errspkg.ErrHandler
	ErrUnknownOutcome    = errspkg.ErrUnknownOutcome
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrUnknownTopic      = errspkg.ErrUnknownTopic
	ErrGroupRequired     = errspkg.ErrGroupRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrAlreadySubscribed = errspkg.ErrAlreadySubscribed
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.Nop

	NewMetadata  = metadatapkg.New
	NewMessageID = idspkg.NewMessageID

	LookupTopic = topics.Lookup
	AllTopics   = topics.All

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
)

// Catalog topics.
const (
	TopicUserCreated      = topics.UserCreated
	TopicUserUpdated      = topics.UserUpdated
	TopicAssetCreated     = topics.AssetCreated
	TopicAssetUpdated     = topics.AssetUpdated
	TopicAuditLog         = topics.AuditLog
	TopicTelemetryData    = topics.TelemetryData
	TopicNotificationSend = topics.NotificationSend
)

// Wire header names.
const (
	HeaderCorrelationID    = metadatapkg.HeaderCorrelationID
	HeaderTimestamp        = metadatapkg.HeaderTimestamp
	HeaderDeadLetterReason = metadatapkg.HeaderDeadLetterReason
	HeaderOriginalTopic    = metadatapkg.HeaderOriginalTopic
)

// JSONHandler decodes each payload into T before calling fn. A payload that
// does not fit T is reported as a decoding failure and skipped.
func JSONHandler[T any](fn func(ctx context.Context, event T, env Envelope) error) Handler {
	return runtimepkg.JSONHandler(fn)
}
