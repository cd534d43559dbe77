package domain

import "time"

type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelSuccess LogLevel = "SUCCESS"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
	LevelMessage LogLevel = "MESSAGE"
)

type LogEvent struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

type ConversationUpdate struct {
	Nickname Nickname          `json:"nickname"`
	Entry    ConversationEntry `json:"entry"`
}
