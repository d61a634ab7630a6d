package config

const (
	// TopicDocumentProcess carries pipeline tasks for submitted documents.
	TopicDocumentProcess = "document.process"

	// TopicDocumentNotify carries completion notifications when no webhook is configured.
	TopicDocumentNotify = "document.notify"

	// ChannelPipeline is the consumer channel of the pipeline workers.
	ChannelPipeline = "pipeline"
)
