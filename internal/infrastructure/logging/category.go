package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	Websocket       Category = "Websocket"
	Registry        Category = "Registry"
	Fanout          Category = "Fanout"
	Router          Category = "Router"
	Bridge          Category = "Bridge"
	Redis           Category = "Redis"
	RabbitMQ        Category = "RabbitMQ"
	MongoDB         Category = "MongoDB"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"
	Recovery        SubCategory = "Recovery"

	// Connections
	Connect    SubCategory = "Connect"
	Disconnect SubCategory = "Disconnect"
	Register   SubCategory = "Register"
	Unregister SubCategory = "Unregister"
	Conflict   SubCategory = "Conflict"
	Receive    SubCategory = "Receive"

	// Messages
	Decode   SubCategory = "Decode"
	Dispatch SubCategory = "Dispatch"
	Delivery SubCategory = "Delivery"
	Consume  SubCategory = "Consume"
	Publish  SubCategory = "Publish"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	HostIp       ExtraKey = "HostIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"

	Owner         ExtraKey = "Owner"
	ExistingOwner ExtraKey = "ExistingOwner"
	ConnectionID  ExtraKey = "ConnectionID"
	RemoteAddr    ExtraKey = "RemoteAddr"
	MessageType   ExtraKey = "MessageType"
	Recipient     ExtraKey = "Recipient"
	Sender        ExtraKey = "Sender"
	Attempted     ExtraKey = "Attempted"
	Delivered     ExtraKey = "Delivered"
	Failed        ExtraKey = "Failed"
	Queue         ExtraKey = "Queue"
	Channel       ExtraKey = "Channel"
	AckMode       ExtraKey = "AckMode"
	Payload       ExtraKey = "Payload"
)
