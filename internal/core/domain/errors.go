package domain

import "errors"

var (
	ErrPeerNotFound       = errors.New("peer not found")
	ErrNicknameInUse      = errors.New("nickname already in use")
	ErrInvalidNickname    = errors.New("invalid nickname")
	ErrNotConnected       = errors.New("not connected")
	ErrPeerUnknownAddress = errors.New("datagram from unknown address")
	ErrAlreadyStarted     = errors.New("already started")
	ErrRefused            = errors.New("refused by server")
)
