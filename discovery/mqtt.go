package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTRepublisher mirrors upserted devices to an MQTT broker, one
// retained message per device topic, grounded on MQTTPublisher's
// client setup (auto-reconnect, generated client ID,
// connection-lifecycle logging).
type MQTTRepublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	retain bool
}

// devicePayload is the JSON body published for each upserted device.
type devicePayload struct {
	UUID      uint64   `json:"uuid"`
	Analyzer  string   `json:"analyzer"`
	Host      string   `json:"host"`
	Profiles  []string `json:"profiles"`
	QTH       string   `json:"qth,omitempty"`
	FirstSeen int64    `json:"first_seen"`
	LastSeen  int64    `json:"last_seen"`
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "sdrcore_" + hex.EncodeToString(b)
}

// NewMQTTRepublisher connects to broker and returns a Republisher that
// publishes one message per device upsert to topicPrefix/<uuid>.
func NewMQTTRepublisher(broker, topicPrefix, username, password string) (*MQTTRepublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(generateClientID())
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("discovery: connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("discovery: MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("discovery: connecting to MQTT broker: %w", token.Error())
	}

	return &MQTTRepublisher{client: client, topic: topicPrefix, qos: 0, retain: true}, nil
}

// PublishDevice implements Republisher.
func (r *MQTTRepublisher) PublishDevice(rec DeviceRecord) {
	if !r.client.IsConnected() {
		return
	}
	payload := devicePayload{
		UUID:      rec.UUID,
		Analyzer:  rec.Analyzer,
		Host:      rec.Host,
		Profiles:  rec.Profiles,
		QTH:       rec.QTH,
		FirstSeen: rec.FirstSeen.Unix(),
		LastSeen:  rec.LastSeen.Unix(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("discovery: marshaling device payload: %v", err)
		return
	}

	topic := fmt.Sprintf("%s/%016x", r.topic, rec.UUID)
	token := r.client.Publish(topic, r.qos, r.retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("discovery: publishing device to %s: %v", topic, token.Error())
		}
	}()
}

// Disconnect gracefully disconnects from the broker.
func (r *MQTTRepublisher) Disconnect() {
	if r.client != nil && r.client.IsConnected() {
		r.client.Disconnect(250)
	}
}
