// Package mqtt provides MQTT client connectivity for the Autelis bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The broker is the host side of the bridge. Node state, discovery and
// health go out on retained autelis/... topics; commands and requests come
// back in on autelis/command/+ and autelis/request/+.
//
//	Autelis appliance ↔ Bridge ↔ MQTT Broker ↔ Home automation controller
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Anonymous access is only for local development
//
// # Usage
//
//	will, _ := json.Marshal(autelis.NewLWTMessage(cfg.Bridge.ID))
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(mqtt.Will{
//	    Topic:   autelis.HealthTopic(),
//	    Payload: will,
//	    QoS:     1,
//	}))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
