// Package types is the websocket wire protocol.
//
// Client -> Server (every frame is a JSON object with a "type"):
//
//	create_room:
//	  code: string      // 3-16 of A-Z 0-9 _ -, case-insensitive
//	  name: string      // display name, defaults to the code
//	  secret: string    // optional; locks the room
//	  player: string
//
//	join_room:
//	  code: string
//	  player: string
//	  secret: string    // only checked when the room is locked
//
//	list_rooms: {}
//
//	import_pool (admin only):
//	  code: string
//	  link: string      // Google Doc link
//	  targetWinners: number | string  // optional, default 5
//
//	vote:
//	  code: string
//	  pick: "A" | "B"
//
// Server -> Client:
//
//	room_state:
//	  room: {
//	    version, code, name, locked, adminId, you, isAdmin,
//	    players: [{name}],
//	    targetWinners, selectedCount, poolCount,
//	    selected: Candidate[],
//	    flash: {id, text, ts} | null   // only within its window
//	    tournament: {
//	      round, matchNumber, matchTotal,
//	      currentMatch: {id, note},
//	      currentA: Candidate, currentB: Candidate,
//	      voteStatus: [{name, voted}],  // never the pick itself
//	      votesCast
//	    } | null,
//	    done
//	  }
//
//	rooms:
//	  rooms: [{code, name, locked, players, playerCount, createdAt, createdAgo}]  // newest first
//
//	error:
//	  error: {code: "validation" | "authorization" | "not_found" | "external" | "conflict" | "internal", message}
//
// Candidate: {id, name, normalPrice, salePrice, imageUrl}
package types
