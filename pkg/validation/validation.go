package validation

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxNicknameLength = 32
	// A datagram frame has to fit the receive buffer after encryption.
	MaxMessageLength = 1024
)

// streamTrailer matches a complete stream timestamp trailer. Text carrying
// one would be split on the receiving side.
var streamTrailer = regexp.MustCompile(`\|TS:[0-9.]+\|`)

// ValidateNickname validates a peer nickname. Nicknames travel inside
// colon- and pipe-delimited frames, so neither character is allowed.
func ValidateNickname(nickname string) error {
	if strings.TrimSpace(nickname) == "" {
		return fmt.Errorf("nickname is required")
	}
	if nickname != strings.TrimSpace(nickname) {
		return fmt.Errorf("nickname must not start or end with whitespace")
	}
	if !utf8.ValidString(nickname) {
		return fmt.Errorf("nickname contains invalid characters")
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return fmt.Errorf("nickname is too long (max %d characters)", MaxNicknameLength)
	}
	if strings.ContainsAny(nickname, ":|") {
		return fmt.Errorf("nickname must not contain ':' or '|'")
	}
	for _, r := range nickname {
		if unicode.IsControl(r) {
			return fmt.Errorf("nickname contains control characters")
		}
	}
	return nil
}

// ValidateMessageText validates outbound chat text
func ValidateMessageText(text string) error {
	if text == "" {
		return fmt.Errorf("message is required")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if len(text) > MaxMessageLength {
		return fmt.Errorf("message is too long (max %d bytes)", MaxMessageLength)
	}
	if streamTrailer.MatchString(text) {
		return fmt.Errorf("message must not contain a timestamp trailer")
	}
	return nil
}

// ValidateAddress validates a host:port listen or dial address. An empty
// host is accepted for listen addresses such as ":12345".
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// ValidateLossRate validates a simulated loss probability
func ValidateLossRate(rate float64) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("loss rate must be within [0, 1]")
	}
	return nil
}
