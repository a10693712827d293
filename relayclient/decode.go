package relayclient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ventelive/livebridge/event"
)

// decodePayload interprets one transport payload. The wire format is not
// contractually fixed, so all shape tolerance lives here and nowhere
// else. Accepted, in order:
//
//  1. a well-formed {type, data} envelope;
//  2. a flat JSON object without a type: chat when a comment/message/text
//     field is present, otherwise a stats (like) reading;
//  3. plain text matching "sender: text";
//  4. any other text, kept as an opaque chat comment with unknown sender.
//
// The design goal is to never drop a message merely because its shape is
// unexpected. ok is false only when nothing at all can be made of the
// payload (e.g. empty input).
func decodePayload(data []byte) (ev event.Event, ok bool) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return event.Event{}, false
	}

	if json.Valid(data) {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err == nil {
			if _, hasType := probe["type"]; hasType {
				if err := json.Unmarshal(data, &ev); err == nil {
					return stampChat(ev), true
				}
				// Unknown type value; fall through to the flat-object path.
			}
			return decodeFlat(probe), true
		}
		// Valid JSON but not an object (number, array, quoted string):
		// treat the raw text as an opaque comment.
	}

	if sender, text, found := strings.Cut(trimmed, ":"); found && sender != "" && !strings.ContainsAny(sender, " \t") {
		return stampChat(event.NewChat(event.Chat{
			SenderID:    strings.TrimSpace(sender),
			DisplayName: strings.TrimSpace(sender),
			Text:        strings.TrimSpace(text),
			TimestampMs: time.Now().UnixMilli(),
		})), true
	}

	return stampChat(event.NewChat(event.Chat{
		DisplayName: "unknown",
		Text:        trimmed,
		TimestampMs: time.Now().UnixMilli(),
	})), true
}

// decodeFlat maps a typeless JSON object onto the closest event kind.
func decodeFlat(fields map[string]json.RawMessage) event.Event {
	text, hasText := firstString(fields, "comment", "message", "text")
	sender, _ := firstString(fields, "uniqueId", "senderId", "username", "user", "sender")
	name, hasName := firstString(fields, "displayName", "nickname", "name")
	if !hasName {
		name = sender
	}

	if hasText {
		ts := firstInt(fields, "timestampMs", "timestamp")
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		avatar, _ := firstString(fields, "avatarUrl", "profilePictureUrl")
		return stampChat(event.NewChat(event.Chat{
			SenderID:    sender,
			DisplayName: name,
			Text:        text,
			TimestampMs: ts,
			AvatarURL:   avatar,
		}))
	}

	likes := int(firstInt(fields, "likeCount", "likes", "totalLikes"))
	return event.NewLike(event.Like{SenderID: sender, DisplayName: name, LikeCount: likes})
}

// stampChat assigns the locally generated id used for UI list keys. Only
// chat events carry one; everything else has no identity beyond content.
func stampChat(ev event.Event) event.Event {
	if ev.Type == event.KindChat && ev.Chat != nil && ev.Chat.ID == "" {
		ev.Chat.ID = uuid.New().String()
	}
	return ev
}

func firstString(fields map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
	}
	return "", false
}

func firstInt(fields map[string]json.RawMessage, keys ...string) int64 {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n
		}
	}
	return 0
}
