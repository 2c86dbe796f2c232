// Package room holds the domain model shared by the room store, the
// broadcast hub and the cleanup sweep: rooms, the two message shapes,
// room codes and the error taxonomy surfaced at the HTTP boundary.
package room
