package announce

import (
	"fmt"
	"net/url"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// BrokerConfig locates the MQTT broker events are published to.
type BrokerConfig struct {
	Host     string
	Port     int
	Login    string
	Password string
}

func (c BrokerConfig) url() string {
	u := url.URL{
		Scheme: "tcp",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	if c.Login != "" {
		u.User = url.UserPassword(c.Login, c.Password)
	}
	return u.String()
}

// Publisher sends device lifecycle events over MQTT. Publishing is best
// effort; a missing broker must never affect device operation.
type Publisher struct {
	hostname string
	config   func() BrokerConfig
}

// NewPublisher returns a Publisher that resolves the broker location on
// every publish so settings changes take effect without a restart.
func NewPublisher(hostname string, config func() BrokerConfig) *Publisher {
	return &Publisher{hostname: hostname, config: config}
}

// Online announces that the device came up with the given firmware version.
// The message is retained so late subscribers see the current state.
func (p *Publisher) Online(version string) {
	p.publish("status", fmt.Sprintf(`{"state":"online","version":"%s"}`, version), true)
}

// Updated announces a completed firmware update.
func (p *Publisher) Updated(version string) {
	p.publish("update", fmt.Sprintf(`{"result":"ok","version":"%s"}`, version), false)
}

// UpdateFailed announces a rejected or failed firmware update.
func (p *Publisher) UpdateFailed(reason string) {
	p.publish("update", fmt.Sprintf(`{"result":"failed","reason":"%s"}`, reason), false)
}

// Rebooting announces an imminent restart with its reason.
func (p *Publisher) Rebooting(reason string) {
	p.publish("status", fmt.Sprintf(`{"state":"rebooting","reason":"%s"}`, reason), true)
}

func (p *Publisher) publish(event, payload string, retain bool) {
	cfg := p.config()
	if cfg.Host == "" {
		return
	}

	topic := fmt.Sprintf("minos/%s/%s", p.hostname, event)
	if err := p.send(cfg.url(), topic, payload, retain); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to publish mqtt event")
	}
}

func (p *Publisher) send(brokerURL, topic, payload string, retain bool) error {
	cl := client.New()

	cf, err := cl.Connect(client.NewConfig(brokerURL))
	if err != nil {
		return err
	}
	if err := cf.Wait(publishTimeout); err != nil {
		return err
	}
	defer cl.Close()

	if _, err := cl.Publish(topic, []byte(payload), 0, retain); err != nil {
		return err
	}

	cl.Disconnect()
	return nil
}
