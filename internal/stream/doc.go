// Package stream implements the WebSocket session protocol independently of
// the socket library.
//
// A Session starts unauthenticated. An auth message with an allow-listed
// api_key moves it to authenticated and is answered with
// connection_established; a bad key gets an authentication_failed error and
// the connection is closed with code 1008. A generate message from an
// authenticated session runs the creator and reviewer stages, emitting
// agent_message, content, agent_message, review and complete in that order.
// Results produced over a stream are not persisted.
//
// Auth and generate messages are handled one at a time in arrival order by a
// per-session worker. Pings bypass that queue and are answered on arrival,
// also during a generation. The gateway feeds Run from a single reader
// goroutine, implements Conn on top of gorilla/websocket, and uses OnBusy to
// pause its idle timeout while a generation runs.
package stream
