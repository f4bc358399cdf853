// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpc

import (
	"vendue.org/vendue/mkt/msg"
	"vendue.org/vendue/mkt/ws"
)

// Link is an interface for a communication channel with an API client. The
// reference implementation of a Link-satisfying type is the wsLink, which
// passes messages over a websocket connection.
type Link interface {
	// ID will return a unique ID by which this connection can be identified.
	ID() uint64
	// Send sends the msg.Message to the client.
	Send(m *msg.Message) error
	// Banish closes the link and quarantines the client.
	Banish()
}

// wsLink is the local, per-connection representation of an API client.
type wsLink struct {
	*ws.WSLink
	// The id is the unique identifier assigned to this client.
	id uint64
	// Upon closing, the client's IP address will be quarantined by the server
	// if ban = true.
	ban bool
}

// newWSLink is a constructor for a new wsLink.
func newWSLink(addr string, conn ws.Connection) *wsLink {
	var c *wsLink
	c = &wsLink{
		WSLink: ws.NewWSLink(addr, conn, pingPeriod, func(m *msg.Message) *msg.Error {
			return handleMessage(c, m)
		}),
	}
	return c
}

// Banish sets the ban flag and closes the client.
func (c *wsLink) Banish() {
	c.ban = true
	c.Disconnect()
}

func (c *wsLink) ID() uint64 {
	return c.id
}

func handleMessage(c *wsLink, m *msg.Message) *msg.Error {
	if m.Type != msg.Request {
		return msg.NewError(msg.UnknownMessageType, "only request-type messages accepted")
	}
	if m.ID == 0 {
		return msg.NewError(msg.RPCParseError, "request id cannot be zero")
	}
	// Look for a registered handler. Failure to find a handler results in an
	// error response but not a disconnect.
	handler := RouteHandler(m.Route)
	if handler == nil {
		return msg.NewError(msg.RPCUnknownRoute, "unknown route "+m.Route)
	}
	return handler(c, m)
}
