// Package hub is the reference remote collaborator for canvas sessions.
//
// It serves the persistence API the client expects under /api and a
// websocket endpoint that fans realtime events out to every session on
// the same canvas.
//
// # Routes
//
//	GET  /api/canvas            current snapshot plus partner profile
//	POST /api/canvas/save       {elements} -> {success, revision}
//	POST /api/canvas/broadcast  {elements} -> {success}
//	GET  /api/canvas/history    {history}
//	POST /api/upload/image      multipart "image" -> {imageUrl}
//	GET  /api/images/{name}     uploaded image bytes (no auth)
//	GET  /api/ws?token=         realtime websocket
//
// Requests authenticate with "Authorization: Bearer <token>"; the
// websocket takes the token as a query parameter. Users sharing a
// canvas id are partners.
//
// # Fan-out
//
// Every canvas_update is stamped with the author's user id and delivered
// to all connections in the room, author included; clients drop their own
// echoes. partner_connected and partner_disconnected go to everyone but
// the user who joined or left. Delivery goes through a Relay: in-process
// for a single hub, Redis pub/sub when several hubs share a database.
package hub
