package session

import (
	"fmt"

	"github.com/vedran77/vetchat/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateLoading, StateReady, StateErrored} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

type UpdateKind string

const (
	UpdateState           UpdateKind = "session.state"
	UpdateSnapshot        UpdateKind = "conversation.snapshot"
	UpdateMessageNew      UpdateKind = "message.new"
	UpdateMessageReplaced UpdateKind = "message.updated"
	UpdateProfile         UpdateKind = "profile.resolved"
	UpdateNotice          UpdateKind = "notice"
)

// Notice codes shown to the user.
const (
	NoticeFetchFailed = "FETCH_FAILED"
	NoticeNoRecipient = "NO_RECIPIENT"
	NoticeSendFailed  = "SEND_FAILED"
	NoticeValidation  = "VALIDATION_ERROR"
	NoticeNotReady    = "NOT_READY"
)

type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Update describes one change to the session as seen by its owner. Only the
// fields relevant to Kind are set.
type Update struct {
	Kind       UpdateKind
	State      State
	Message    *domain.Message
	ReplacedID string
	Profile    *domain.Profile
	Notice     *Notice
	Snapshot   *Snapshot
}

type Snapshot struct {
	State    State                     `json:"state"`
	Self     []string                  `json:"self"`
	Messages []domain.Message          `json:"messages"`
	Profiles map[string]domain.Profile `json:"profiles"`
}
