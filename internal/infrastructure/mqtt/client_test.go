package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fsanet/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fsanet-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", topics.State("192.168.137.101"), "fsanet/state/fsa/192.168.137.101"},
		{"Command", topics.Command("192.168.137.101"), "fsanet/command/fsa/192.168.137.101"},
		{"Health", topics.Health(), "fsanet/health/fsa"},
		{"Discovery", topics.Discovery(), "fsanet/discovery/fsa"},
		{"SystemStatus", topics.SystemStatus(), "fsanet/system/status"},
		{"AllStates", topics.AllStates(), "fsanet/state/fsa/+"},
		{"AllCommands", topics.AllCommands(), "fsanet/command/fsa/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestAddressFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"fsanet/command/fsa/10.0.0.5", "10.0.0.5"},
		{"fsanet/state/fsa/10.0.0.5", "10.0.0.5"},
		{"fsanet/health/fsa", ""},
		{"fsanet/command/knx/10.0.0.5", ""},
		{"other/command/fsa/10.0.0.5", ""},
		{"fsanet/ack/fsa/10.0.0.5", ""},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := (Topics{}).AddressFromTopic(tt.topic); got != tt.want {
				t.Errorf("AddressFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "fsanet"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "fsanet-test" {
		t.Errorf("ClientID = %q, want fsanet-test", opts.ClientID)
	}
	if opts.Username != "fsanet" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want fsanet/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if !opts.WillEnabled || opts.WillTopic != "fsanet/system/status" || !opts.WillRetained {
		t.Errorf("LWT = enabled %v topic %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var will statusMessage
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("LWT payload is not JSON: %v", err)
	}
	if will.Status != "offline" || will.Reason != "unexpected_disconnect" {
		t.Errorf("LWT payload = %+v", will)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestStatusPayload(t *testing.T) {
	var msg statusMessage
	if err := json.Unmarshal(statusPayload("fsanet", "online", ""), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != "online" || msg.ClientID != "fsanet" || msg.Reason != "" {
		t.Errorf("payload = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339", msg.Timestamp)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := c.Publish("fsanet/health/fsa", []byte("{}"), 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishRetained("fsanet/health/fsa", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishRetained() error = %v, want ErrNotConnected", err)
	}
	handler := func(string, []byte) error { return nil }
	if err := c.Subscribe("fsanet/command/fsa/+", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after a failed subscribe", c.SubscriptionCount())
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := newClient(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := newClient(testConfig())
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"qos 3", "fsanet/health/fsa", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "fsanet/health/fsa", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Validation runs before the connection check.
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("fsanet/#", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("fsanet/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
}

func TestDispatch(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { return errors.New("bad command") }, "fsanet/command/fsa/10.0.0.5", nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "fsanet/command/fsa/10.0.0.5", nil)

	var got string
	c.dispatch(func(topic string, _ []byte) error {
		got = topic
		return nil
	}, "fsanet/command/fsa/10.0.0.6", nil)

	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want one for the handler error", logger.warns)
	}
	if len(logger.errs) != 1 {
		t.Errorf("errors = %v, want one for the recovered panic", logger.errs)
	}
	if got != "fsanet/command/fsa/10.0.0.6" {
		t.Errorf("handler topic = %q", got)
	}
}

// TestBrokerRoundTrip needs a broker. Set FSANET_TEST_MQTT_BROKER to
// host:port to run it.
func TestBrokerRoundTrip(t *testing.T) {
	broker := os.Getenv("FSANET_TEST_MQTT_BROKER")
	if broker == "" {
		t.Skip("FSANET_TEST_MQTT_BROKER not set")
	}
	host, portStr, ok := strings.Cut(broker, ":")
	port, err := strconv.Atoi(portStr)
	if !ok || err != nil {
		t.Fatalf("FSANET_TEST_MQTT_BROKER = %q, want host:port", broker)
	}

	cfg := testConfig()
	cfg.Broker.Host = host
	cfg.Broker.Port = port
	cfg.Broker.ClientID = "fsanet-roundtrip-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	received := make(chan string, 1)
	err = c.Subscribe(Topics{}.AllCommands(), 1, func(topic string, _ []byte) error {
		received <- Topics{}.AddressFromTopic(topic)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Publish(Topics{}.Command("10.0.0.5"), []byte(`{"enabled":true}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case addr := <-received:
		if addr != "10.0.0.5" {
			t.Errorf("received address %q, want 10.0.0.5", addr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received within 5s")
	}
}
