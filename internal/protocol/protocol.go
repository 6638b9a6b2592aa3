// Package protocol defines the JSON message envelopes exchanged with each
// endpoint role, grounded on odin-ws-server's internal/types.BaseMessage
// discriminated-union style.
package protocol

// Type is the `type` discriminator carried by every JSON text frame.
type Type string

const (
	// Inbound on /pocket-parrot.
	TypeHandshake        Type = "handshake"
	TypeData             Type = "data"
	TypeRequestSenderRole Type = "request_sender_role"

	// Inbound on /dashboard.
	TypeGetStats    Type = "getStats"
	TypeKickUser    Type = "kickUser"
	TypePromoteUser Type = "promoteUser"
	TypeDemoteUser  Type = "demoteUser"

	// Outbound to producers.
	TypeWelcome        Type = "welcome"
	TypeObserverMode   Type = "observer_mode"
	TypePromoted       Type = "promoted"
	TypeDemoted        Type = "demoted"
	TypeSenderChanged  Type = "sender_changed"
	TypeAck            Type = "ack"
	TypeRejected       Type = "rejected"
	TypeKicked         Type = "kicked"
	TypeServerShutdown Type = "server_shutdown"

	// Outbound to dashboards.
	TypeUserConnected    Type = "userConnected"
	TypeUserDisconnected Type = "userDisconnected"
	TypeSenderPromoted   Type = "senderPromoted"
	TypeDataReceived     Type = "dataReceived"
	TypeStats            Type = "stats"

	// Outbound to passive-listeners.
	TypeListenerConnected Type = "listener_connected"
	TypeSensorData        Type = "sensor_data"

	// Outbound to orientation-listeners.
	TypeOrientationListenerConnected Type = "orientation_listener_connected"
	TypeOrientationData              Type = "orientation_data"

	// Outbound to bulk-listeners.
	TypeBulkListenerConnected Type = "bulk_listener_connected"
	TypeBulkDataBatch         Type = "bulk_data_batch"
)

// Envelope is the common shape every outbound message embeds a `type` into.
// Handlers marshal concrete payload structs below; Envelope itself is used
// only to peek at inbound frames before full decoding.
type Envelope struct {
	Type Type `json:"type"`
}

// --- Inbound payloads -------------------------------------------------

type HandshakeIn struct {
	Type      Type   `json:"type"`
	Client    string `json:"client"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"deviceId,omitempty"`
	Username  string `json:"username,omitempty"`
}

type Orientation struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

type Motion struct {
	AccelerationX float64 `json:"accelerationX,omitempty"`
	AccelerationY float64 `json:"accelerationY,omitempty"`
	AccelerationZ float64 `json:"accelerationZ,omitempty"`
}

type Weather struct {
	TemperatureC float64 `json:"temperatureC,omitempty"`
	Conditions   string  `json:"conditions,omitempty"`
}

type DetectedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// SensorSample is the full payload of a `data` frame's `data` field.
type SensorSample struct {
	ID              string           `json:"id"`
	Timestamp       int64            `json:"timestamp"`
	GPS             *GPS             `json:"gps,omitempty"`
	Orientation     *Orientation     `json:"orientation,omitempty"`
	Motion          *Motion          `json:"motion,omitempty"`
	Weather         *Weather         `json:"weather,omitempty"`
	ObjectsDetected []DetectedObject `json:"objectsDetected,omitempty"`
	PhotoBase64     string           `json:"photoBase64,omitempty"`
	AudioBase64     string           `json:"audioBase64,omitempty"`
	ColorPalette    []string         `json:"colorPalette,omitempty"`
}

type DataIn struct {
	Type Type         `json:"type"`
	Data SensorSample `json:"data"`
}

type RequestSenderRoleIn struct {
	Type Type `json:"type"`
}

type GetStatsIn struct {
	Type Type `json:"type"`
}

type KickUserIn struct {
	Type   Type   `json:"type"`
	UserID string `json:"userId"`
}

type PromoteUserIn struct {
	Type   Type   `json:"type"`
	UserID string `json:"userId"`
}

type DemoteUserIn struct {
	Type Type `json:"type"`
}

// --- Outbound payloads --------------------------------------------------

type WelcomeOut struct {
	Type         Type   `json:"type"`
	Role         string `json:"role"`
	ConnectionID string `json:"connectionId"`
}

type ObserverModeOut struct {
	Type         Type   `json:"type"`
	ActiveSender string `json:"activeSender"`
	Message      string `json:"message"`
}

type PromotedOut struct {
	Type Type   `json:"type"`
	Role string `json:"role"`
}

type DemotedOut struct {
	Type Type `json:"type"`
}

type SenderChangedOut struct {
	Type         Type   `json:"type"`
	ActiveSender string `json:"activeSender"`
}

type AckOut struct {
	Type     Type   `json:"type"`
	Received string `json:"received"`
}

type RejectedOut struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason"`
}

type KickedOut struct {
	Type Type `json:"type"`
}

type ServerShutdownOut struct {
	Type Type `json:"type"`
}

type UserConnectedOut struct {
	Type         Type   `json:"type"`
	ConnectionID string `json:"connectionId"`
	DeviceID     string `json:"deviceId"`
	Username     string `json:"username"`
}

type UserDisconnectedOut struct {
	Type         Type   `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type SenderPromotedOut struct {
	Type         Type   `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type DataReceivedOut struct {
	Type         Type   `json:"type"`
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

type SensorDataOut struct {
	Type         Type         `json:"type"`
	ConnectionID string       `json:"connectionId"`
	Username     string       `json:"username"`
	Timestamp    int64        `json:"timestamp"`
	Data         SensorSample `json:"data"`
}

type OrientationDataOut struct {
	Type         Type        `json:"type"`
	ConnectionID string      `json:"connectionId"`
	Username     string      `json:"username"`
	Timestamp    int64       `json:"timestamp"`
	Orientation  Orientation `json:"orientation"`
}

type ListenerConnectedOut struct {
	Type Type `json:"type"`
}

type OrientationListenerConnectedOut struct {
	Type Type `json:"type"`
}

type BulkListenerConnectedOut struct {
	Type          Type  `json:"type"`
	BatchInterval int64 `json:"batchInterval"`
	MaxBatchSize  int   `json:"maxBatchSize"`
}

// BulkRecord is one coalesced, non-orientation sensor record.
type BulkRecord struct {
	Timestamp    int64            `json:"timestamp"`
	ProducerID   string           `json:"producerId"`
	Username     string           `json:"username"`
	GPS          *GPS             `json:"gps,omitempty"`
	Motion       *Motion          `json:"motion,omitempty"`
	Weather      *Weather         `json:"weather,omitempty"`
	Objects      []DetectedObject `json:"objectsDetected,omitempty"`
	PhotoBase64  string           `json:"photoBase64,omitempty"`
	AudioBase64  string           `json:"audioBase64,omitempty"`
	ColorPalette []string         `json:"colorPalette,omitempty"`
}

type BulkDataBatchOut struct {
	Type      Type         `json:"type"`
	BatchSize int          `json:"batchSize"`
	Timestamp int64        `json:"timestamp"`
	Records   []BulkRecord `json:"records"`
}

// ProducerStat is one row of the per-producer list in a stats snapshot.
type ProducerStat struct {
	ConnectionID   string `json:"connectionId"`
	ConnectedAt    int64  `json:"connectedAt"`
	DataCount      int64  `json:"dataCount"`
	LastDataTime   int64  `json:"lastDataTime,omitempty"`
	Username       string `json:"username,omitempty"`
	IsActiveSender bool   `json:"isActiveSender"`
	DeviceID       string `json:"deviceId"`
	RemoteAddr     string `json:"remoteAddr"`
}

type StatsOut struct {
	Type                  Type           `json:"type"`
	ActiveProducers       int            `json:"activeProducers"`
	PassiveListeners      int            `json:"passiveListeners"`
	OrientationListeners  int            `json:"orientationListeners"`
	BulkListeners         int            `json:"bulkListeners"`
	ActiveSender          string         `json:"activeSender,omitempty"`
	TotalDataPoints       int64          `json:"totalDataPoints"`
	DataPointsLastMinute  int64          `json:"dataPointsLastMinute"`
	BulkQueueSize         int            `json:"bulkQueueSize"`
	UptimeSeconds         float64        `json:"uptimeSeconds"`
	Producers             []ProducerStat `json:"producers"`
}
