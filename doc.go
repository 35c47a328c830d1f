// Package statboard defines the public surface of the statboard connection
// layer: a single logical WebSocket connection kept alive across an unreliable
// network, multiplexing request/response exchanges and fanning out
// server-pushed events to independent subscribers.
//
// The dashboard front end (tables, charts, settings) consumes exactly five
// primitives from this package: Connect, WaitForReady, Request, On/Off, and
// the State/Details snapshot. Everything else (rendering, filtering, theming)
// lives outside this module.
//
// # Quick start
//
//	import (
//	    "github.com/statboard/statboard"
//	    "github.com/statboard/statboard/client"
//	)
//
//	cli := client.New(client.DefaultConfig(), logger)
//	if err := cli.Connect("wss://boards.example.com/ws"); err != nil {
//	    log.Fatal(err) // configuration error, nothing was dialed
//	}
//	if err := cli.WaitForReady(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	payload, err := cli.Request(ctx, "logs.query", query, 0)
//
//	cli.On(statboard.TopicStateChanged, func(topic string, payload any) {
//	    log.Printf("connection is now %s", payload.(statboard.State))
//	})
//
// # Wire format
//
// Every message on the socket is a JSON envelope {type, id?, payload}.
// Outbound requests always carry an id; inbound messages with an id matching a
// pending request resolve that request and are never also broadcast. Inbound
// messages without an id are server-pushed events dispatched by type to
// subscribers registered for that type.
package statboard
