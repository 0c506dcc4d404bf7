package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/repairdispatch/core/dispatch"
	coremon "github.com/kilianp07/repairdispatch/core/monitoring"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
	"github.com/kilianp07/repairdispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled       bool            `json:"enabled"`
	Broker        string          `json:"broker"`
	ClientID      string          `json:"client_id"`
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	ResponseTopic string          `json:"response_topic"`
	UseTLS        bool            `json:"use_tls"`
	ClientCert    string          `json:"client_cert"`
	ClientKey     string          `json:"client_key"`
	CABundle      string          `json:"ca_bundle"`
	AuthMethod    string          `json:"auth_method"`
	QoS           map[string]byte `json:"qos"`
	LWTTopic      string          `json:"lwt_topic"`
	LWTPayload    string          `json:"lwt_payload"`
	LWTQoS        byte            `json:"lwt_qos"`
	LWTRetain     bool            `json:"lwt_retain"`
	MaxRetries    int             `json:"max_retries"`
	BackoffMS     int             `json:"backoff_ms"`
	HandlerMS     int             `json:"handler_timeout_ms"`
	TLSConfig     *tls.Config     `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "repairdispatch"
	}
	if c.ResponseTopic == "" {
		c.ResponseTopic = coremqtt.ResponsesTopic
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.HandlerMS <= 0 {
		c.HandlerMS = 5000
	}
}

// Validate checks the configuration when the transport is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	for k, q := range c.QoS {
		if q > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2", k)
		}
	}
	switch c.AuthMethod {
	case "", "username_password", "tls", "both":
	default:
		return fmt.Errorf("mqtt.auth_method %q is not supported", c.AuthMethod)
	}
	return nil
}

// QoSFor returns the QoS configured for key, zero otherwise.
func (c Config) QoSFor(key string) byte {
	if q, ok := c.QoS[key]; ok {
		return q
	}
	return 0
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient publishes payloads and routes master responses using Eclipse
// Paho.
type PahoClient struct {
	cli           pahoClient
	responseTopic string
	qos           map[string]byte
	logger        logger.Logger
	maxRetries    int
	backoff       time.Duration
	handlerTO     time.Duration

	mu      sync.Mutex
	handler coremqtt.ResponseHandler
	subs    map[string]subscription
}

// MessageFunc receives the topic and payload of an incoming message.
type MessageFunc func(topic string, payload []byte)

type subscription struct {
	qos byte
	fn  MessageFunc
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker. Responses are only consumed
// once HandleResponses has been called; the subscription is restored on
// every reconnect.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		responseTopic: cfg.ResponseTopic,
		qos:           cfg.QoS,
		logger:        log,
		maxRetries:    cfg.MaxRetries,
		backoff:       time.Duration(cfg.BackoffMS) * time.Millisecond,
		handlerTO:     time.Duration(cfg.HandlerMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if pc.currentHandler() != nil {
			if err := pc.subscribe(c); err != nil {
				log.Errorf("subscribe error: %v", err)
			}
		}
		for topic, sub := range pc.subscriptions() {
			if err := subscribeFunc(c, topic, sub); err != nil {
				log.Errorf("subscribe error: %v", err)
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// Publish sends payload to topic, retrying with exponential backoff.
func (p *PahoClient) Publish(topic string, qos byte, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published to %s", topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// HandleResponses subscribes to master responses and forwards them to h.
func (p *PahoClient) HandleResponses(h coremqtt.ResponseHandler) error {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return p.subscribe(p.cli)
}

func (p *PahoClient) subscribe(c pahoClient) error {
	if token := c.Subscribe(p.responseTopic, p.qosFor(coremqtt.QoSResponse), p.onResponse); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", p.responseTopic, token.Error())
	}
	return nil
}

// Subscribe routes messages matching topic to fn. The subscription is
// restored on every reconnect.
func (p *PahoClient) Subscribe(topic string, qos byte, fn MessageFunc) error {
	sub := subscription{qos: qos, fn: fn}
	p.mu.Lock()
	if p.subs == nil {
		p.subs = make(map[string]subscription)
	}
	p.subs[topic] = sub
	p.mu.Unlock()
	return subscribeFunc(p.cli, topic, sub)
}

func subscribeFunc(c pahoClient, topic string, sub subscription) error {
	token := c.Subscribe(topic, sub.qos, func(_ paho.Client, msg paho.Message) {
		sub.fn(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (p *PahoClient) subscriptions() map[string]subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]subscription, len(p.subs))
	for k, v := range p.subs {
		out[k] = v
	}
	return out
}

func (p *PahoClient) qosFor(key string) byte {
	if q, ok := p.qos[key]; ok {
		return q
	}
	return 0
}

func (p *PahoClient) currentHandler() coremqtt.ResponseHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

func (p *PahoClient) onResponse(_ paho.Client, msg paho.Message) {
	h := p.currentHandler()
	if h == nil {
		return
	}
	r, err := coremqtt.DecodeResponse(msg.Topic(), msg.Payload())
	if err != nil {
		p.logger.Warnf("dropping response on %s: %v", msg.Topic(), err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.handlerTO)
	defer cancel()
	switch r.Action {
	case coremqtt.ActionAccept:
		err = h.AcceptOrder(ctx, r.AssignmentID, r.MasterID)
	case coremqtt.ActionReject:
		err = h.RejectOrder(ctx, r.AssignmentID, r.MasterID, r.Reason)
	}
	if err == nil {
		p.logger.Infow("response handled", map[string]any{
			"assignment_id": r.AssignmentID,
			"master_id":     r.MasterID,
			"action":        r.Action,
		})
		return
	}
	if errors.Is(err, dispatch.ErrMasterMismatch) || errors.Is(err, dispatch.ErrClosed) {
		p.logger.Warnf("%s from %s for %s refused: %v", r.Action, r.MasterID, r.AssignmentID, err)
		return
	}
	p.logger.Errorf("%s from %s for %s failed: %v", r.Action, r.MasterID, r.AssignmentID, err)
	coremon.CaptureException(err, map[string]string{
		"module":        "mqtt",
		"assignment_id": r.AssignmentID,
		"master_id":     r.MasterID,
	})
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
