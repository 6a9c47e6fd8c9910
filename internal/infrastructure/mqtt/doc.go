// Package mqtt connects nsmd to an MQTT broker and publishes daemon
// activity for external consumers.
//
// Client wraps paho.mqtt.golang: auto-reconnect with backoff, restored
// subscriptions, and a retained status on nsm/system/status whose Last
// Will is "offline". Publisher sits in front of it as a non-blocking
// queue, so it can serve as a sensor.Sink, an event.Forwarder and an
// asyncop.Notifier without stalling the scheduler or the dispatcher.
//
//	scheduler ──Reading──▶ ┐
//	dispatcher ─Notification▶ Publisher ─queue─▶ Client ─▶ broker
//	asyncop ───Record────▶ ┘
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewPublisher(client, 0)
//	pub.Start(ctx)
//	defer pub.Stop()
//	dispatcher.Forward(pub.Event)
//
// Topic layout is documented on Topics.
package mqtt
