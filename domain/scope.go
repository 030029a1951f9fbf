package domain

import "errors"

// Board names. Anything that is not the main board is treated as personal.
const (
	BoardMain     = "main"
	BoardPersonal = "personal"
)

var ErrMissingOrganisation = errors.New("missing organisation id")

// Scope identifies which tasks a connection may see: the organisation it
// belongs to, the user behind it and the board it is viewing.
type Scope struct {
	OrgID  string `json:"orgId"`
	UserID string `json:"userId"`
	Board  string `json:"board"`
}

// ResolveScope normalizes connect-time parameters into a Scope. It is a pure
// function; the only failure is a missing organisation id, which leaves the
// connection without a room.
func ResolveScope(orgID, userID, board string) (Scope, error) {
	if orgID == "" {
		return Scope{}, ErrMissingOrganisation
	}
	if board != BoardMain {
		board = BoardPersonal
	}
	return Scope{OrgID: orgID, UserID: userID, Board: board}, nil
}

// RoomKey is the broadcast group this scope belongs to.
func (s Scope) RoomKey() string {
	return s.OrgID + ":" + s.Board
}

// Main reports whether the scope views the organisation-wide board.
func (s Scope) Main() bool {
	return s.Board == BoardMain
}
