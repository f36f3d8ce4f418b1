// Package state keeps the ephemeral per-conversation dialog progress.
// Nothing here is persisted: a restart starts every conversation from
// AwaitingRegistration with an empty duplicate-text history.
package state

import "fmt"

// Kind tags the variant held by a State.
type Kind int

const (
	// AwaitingRegistration is the default; a conversation without an entry is in it.
	AwaitingRegistration Kind = iota
	ProblemMenu
	SubProblemMenu
	DescribingProblem
	VideoFeedback
	// HumanHandled is terminal: the dialog stops replying until completion clears it.
	HumanHandled
)

func (k Kind) String() string {
	switch k {
	case AwaitingRegistration:
		return "awaiting_registration"
	case ProblemMenu:
		return "problem_menu"
	case SubProblemMenu:
		return "sub_problem_menu"
	case DescribingProblem:
		return "describing_problem"
	case VideoFeedback:
		return "video_feedback"
	case HumanHandled:
		return "human_handled"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// State is the dialog position of one conversation. Only the fields of the
// current Kind are meaningful.
type State struct {
	Kind Kind

	// Category is the menu category chosen, for SubProblemMenu.
	Category int
	// Previous is where DescribingProblem was entered from.
	Previous *State
	// RecordID is the Problem record the help video answers, for VideoFeedback.
	RecordID int64
}

func Menu() State { return State{Kind: ProblemMenu} }

func SubMenu(category int) State { return State{Kind: SubProblemMenu, Category: category} }

func Describing(previous State) State {
	return State{Kind: DescribingProblem, Previous: &previous}
}

func Feedback(recordID int64) State { return State{Kind: VideoFeedback, RecordID: recordID} }

func Human() State { return State{Kind: HumanHandled} }

// MidFlow reports whether the conversation is inside the menu dialog, i.e. a
// failure should send it back to the top menu.
func (s State) MidFlow() bool {
	switch s.Kind {
	case SubProblemMenu, DescribingProblem, VideoFeedback:
		return true
	}
	return false
}

func (s State) String() string {
	switch s.Kind {
	case SubProblemMenu:
		return fmt.Sprintf("%s{category=%d}", s.Kind, s.Category)
	case DescribingProblem:
		if s.Previous != nil {
			return fmt.Sprintf("%s{previous=%s}", s.Kind, s.Previous.Kind)
		}
	case VideoFeedback:
		return fmt.Sprintf("%s{record=%d}", s.Kind, s.RecordID)
	}
	return s.Kind.String()
}
