package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// backlogCapacity bounds the offline message buffer. Constant memory: when
// full, the oldest message is dropped.
const backlogCapacity = 64

// RealPublisher publishes to an actual MQTT broker and delivers supervisor
// commands. Messages published while disconnected are buffered and drained
// on reconnect.
type RealPublisher struct {
	client paho.Client

	mu      sync.Mutex
	pending *backlog

	onCommand func(Command)
}

// NewRealPublisher creates a publisher connected to the given broker.
// onCommand, if non-nil, is invoked from the MQTT client's goroutine for
// every well-formed command received on TopicCommand; malformed payloads
// are logged and dropped.
func NewRealPublisher(broker string, onCommand func(Command)) (*RealPublisher, error) {
	p := &RealPublisher{
		pending:   newBacklog(backlogCapacity),
		onCommand: onCommand,
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("greenhouse-controller").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.handleConnect)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// handleConnect runs on every (re)connect: renew the command subscription
// and replay buffered messages oldest-first.
func (p *RealPublisher) handleConnect(client paho.Client) {
	if p.onCommand != nil {
		token := client.Subscribe(TopicCommand, 1, p.handleCommand)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Printf("telemetry: subscribe %s: %v", TopicCommand, token.Error())
		}
	}

	p.mu.Lock()
	replay := p.pending.drain()
	p.mu.Unlock()
	if len(replay) == 0 {
		return
	}
	log.Printf("telemetry: reconnected, replaying %d buffered message(s)", len(replay))
	for _, msg := range replay {
		token := client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Printf("telemetry: replay publish: %v", token.Error())
		}
	}
}

func (p *RealPublisher) handleCommand(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("telemetry: malformed command on %s: %v", msg.Topic(), err)
		return
	}
	p.onCommand(cmd)
}

// Publish sends a safety event to the MQTT broker, buffering it if the
// broker is unreachable.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1 (at-least-once): safety events must not be silently lost.
	return p.send(Topic, 1, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.pending.push(outbound{topic: topic, payload: payload, qos: qos, retained: retained})
		n := p.pending.size()
		p.mu.Unlock()
		log.Printf("telemetry: broker unreachable, buffered message (%d pending)", n)
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// DroppedEvents returns how many buffered messages have been lost to
// backlog overflow since startup.
func (p *RealPublisher) DroppedEvents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.droppedTotal
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
