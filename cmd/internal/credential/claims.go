package credential

import "github.com/golang-jwt/jwt/v5"

// VideoGrant is the room permission set carried in the "video" claim.
type VideoGrant struct {
	RoomJoin       bool   `json:"roomJoin"`
	Room           string `json:"room"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

func participantGrant(room string) *VideoGrant {
	return &VideoGrant{
		RoomJoin:       true,
		Room:           room,
		CanPublish:     true,
		CanSubscribe:   true,
		CanPublishData: true,
	}
}
