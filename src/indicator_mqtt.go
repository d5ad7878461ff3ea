package audioboot

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/denisbrodbeck/machineid"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// MQTTIndicatorConfig says where to publish.
type MQTTIndicatorConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`

	// ProgressEvery publishes a progress message every so many packets.
	ProgressEvery int `yaml:"progress_every"`
}

// statusMessage is the JSON body of each publication.
type statusMessage struct {
	State   string `json:"state"`
	Fault   string `json:"fault,omitempty"`
	Packets int    `json:"packets"`
	Bytes   int    `json:"bytes"`
}

// statusPublisher is what MQTTIndicator needs from a broker connection.
type statusPublisher interface {
	publish(topic string, payload []byte)
	Close() error
}

// MQTTIndicator publishes state changes and progress.  Publishing is
// asynchronous; Render never waits for the broker.
type MQTTIndicator struct {
	pub           statusPublisher
	topic         string
	progressEvery int

	last       State
	lastFault  FaultKind
	lastPacket int
	started    bool
}

type pahoPublisher struct {
	client mqtt.Client
	logger *log.Logger
}

func (p *pahoPublisher) publish(topic string, payload []byte) {
	var token = p.client.Publish(topic, 1, true, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.logger.Warn("MQTT publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

func (p *pahoPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// DefaultClientID derives a stable, non-reversible client id from the
// host's machine id.
func DefaultClientID() string {
	var id, err = machineid.ProtectedID("audioboot")
	if err != nil || len(id) < 12 {
		return "audioboot"
	}
	return "audioboot-" + id[:12]
}

// OpenMQTTIndicator connects to the broker.
func OpenMQTTIndicator(cfg MQTTIndicatorConfig, logger *log.Logger) (*MQTTIndicator, error) {
	var clientID = cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}

	var opts = mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	var client = mqtt.NewClient(opts)
	var token = client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.Errorf("connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.Broker)
	}

	logger.Info("connected to MQTT broker", "broker", cfg.Broker, "client_id", clientID)

	return newMQTTIndicator(&pahoPublisher{client: client, logger: logger}, cfg), nil
}

func newMQTTIndicator(pub statusPublisher, cfg MQTTIndicatorConfig) *MQTTIndicator {
	var topic = cfg.Topic
	if topic == "" {
		topic = "audioboot/status"
	}
	return &MQTTIndicator{pub: pub, topic: topic, progressEvery: cfg.ProgressEvery}
}

func (m *MQTTIndicator) send(f Frame) {
	var msg = statusMessage{
		State:   f.State.String(),
		Packets: f.PacketIndex,
		Bytes:   f.Received,
	}
	if f.Fault != FaultNone {
		msg.Fault = f.Fault.String()
	}

	var payload, _ = json.Marshal(msg)
	m.pub.publish(m.topic, payload)
}

func (m *MQTTIndicator) Render(f Frame) {
	if !m.started || f.State != m.last || f.Fault != m.lastFault {
		m.started = true
		m.last = f.State
		m.lastFault = f.Fault
		m.lastPacket = f.PacketIndex
		m.send(f)
		return
	}

	if m.progressEvery > 0 && f.PacketIndex != m.lastPacket {
		m.lastPacket = f.PacketIndex
		if f.PacketIndex%m.progressEvery == 0 {
			m.send(f)
		}
	}
}

func (m *MQTTIndicator) Close() error {
	return m.pub.Close()
}
