// Package notify models the local notification surface used by background
// tasks: channels are created once, notifications are posted, updated and
// dismissed by a fixed numeric id. The last write for an id wins.
package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChannel is returned when a notification names a channel that was never created
	ErrUnknownChannel = errors.New("notification channel not created")
	// ErrInvalidChannel is returned for channels without an id
	ErrInvalidChannel = errors.New("notification channel id is required")
)

// Importance controls how intrusive notifications on a channel are
type Importance int

const (
	ImportanceLow Importance = iota
	ImportanceDefault
	ImportanceHigh
)

func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "low"
	case ImportanceDefault:
		return "default"
	case ImportanceHigh:
		return "high"
	default:
		return fmt.Sprintf("importance(%d)", int(i))
	}
}

// Visibility controls what is shown on a locked screen
type Visibility int

const (
	VisibilityPrivate Visibility = iota
	VisibilityPublic
	VisibilitySecret
)

func (v Visibility) String() string {
	switch v {
	case VisibilityPrivate:
		return "private"
	case VisibilityPublic:
		return "public"
	case VisibilitySecret:
		return "secret"
	default:
		return fmt.Sprintf("visibility(%d)", int(v))
	}
}

// Channel groups notifications that share importance and visibility
type Channel struct {
	ID          string
	Name        string
	Description string
	Importance  Importance
	Visibility  Visibility
	Silent      bool
}

// Notification is the content posted under a numeric id
type Notification struct {
	ChannelID     string
	Title         string
	Text          string
	BigText       string
	Progress      int // 0..ProgressMax; ignored when ProgressMax is 0
	ProgressMax   int
	Ongoing       bool // cannot be dismissed by the user
	OnlyAlertOnce bool // updates after the first post do not alert again
	AutoCancel    bool // dismissed when tapped
}

// HasProgress reports whether the notification carries a progress bar
func (n Notification) HasProgress() bool {
	return n.ProgressMax > 0
}

// Service is the notification surface tasks post to.
type Service interface {
	CreateChannel(ch Channel) error
	Notify(id int, n Notification) error
	Cancel(id int) error
}
