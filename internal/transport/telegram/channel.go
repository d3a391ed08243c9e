package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeChannel builds the opaque channel id for a chat, or a forum topic
// inside a chat: "chatID" or "chatID:threadID".
func EncodeChannel(chatID int64, threadID int) string {
	if threadID > 0 {
		return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(threadID)
	}
	return strconv.FormatInt(chatID, 10)
}

// ParseChannel is the inverse of EncodeChannel.
func ParseChannel(channel string) (chatID int64, threadID int, err error) {
	chatPart, threadPart, hasThread := strings.Cut(strings.TrimSpace(channel), ":")
	chatID, err = strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("invalid telegram channel %q", channel)
	}
	if !hasThread {
		return chatID, 0, nil
	}
	threadID, err = strconv.Atoi(threadPart)
	if err != nil || threadID <= 0 {
		return 0, 0, fmt.Errorf("invalid telegram thread in channel %q", channel)
	}
	return chatID, threadID, nil
}
