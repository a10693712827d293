package upstream

// Raw event payloads as the platform gateway delivers them. Field names
// mirror the gateway's JSON; normalization into internal event types
// happens in the connector.

// ChatEvent is one chat message from a viewer.
type ChatEvent struct {
	UniqueID          string `json:"uniqueId"`
	Nickname          string `json:"nickname"`
	Comment           string `json:"comment"`
	ProfilePictureURL string `json:"profilePictureUrl"`
	TimestampMs       int64  `json:"timestamp"`
}

// GiftEvent is one tick of a gift streak. RepeatEnd marks the final tick;
// RepeatCount on intermediate ticks is a running partial total.
type GiftEvent struct {
	UniqueID    string `json:"uniqueId"`
	Nickname    string `json:"nickname"`
	GiftName    string `json:"giftName"`
	RepeatCount int    `json:"repeatCount"`
	RepeatEnd   bool   `json:"repeatEnd"`
}

// LikeEvent is a batch of likes from one viewer.
type LikeEvent struct {
	UniqueID  string `json:"uniqueId"`
	Nickname  string `json:"nickname"`
	LikeCount int    `json:"likeCount"`
}

// Room identifies a joined broadcast.
type Room struct {
	ID           string `json:"roomId"`
	WebsocketURL string `json:"wsUrl"`
}

// Handlers receives decoded platform events. Nil handlers are skipped.
// All callbacks run on the session's read goroutine; OnDisconnect is
// called exactly once, when the session ends for any reason.
type Handlers struct {
	OnChat       func(ChatEvent)
	OnGift       func(GiftEvent)
	OnLike       func(LikeEvent)
	OnStreamEnd  func()
	OnError      func(error)
	OnDisconnect func(error)
}
