// Package mqtt connects Studio Core to an MQTT broker.
//
// The broker is the external broadcast surface: device status, the combined
// tally vector and per-user tally state are published as retained messages,
// device events are published as they happen, and other systems send
// commands on the command hierarchy (see Topics).
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.PublishJSON(topics.Status("vmix", "Main"), status, true)
//
// Reconnection uses paho's auto-reconnect bounded by mqtt.reconnect; tracked
// subscriptions are restored on every reconnect. TLS is enabled with
// mqtt.broker.tls and requires TLS 1.2 or later.
package mqtt
