package app

import (
	"github.com/skobkin/intelgputop/internal/config"
	"github.com/skobkin/intelgputop/internal/procscan"
)

// State holds the view toggles and the output mode the tick pipeline reads.
// Only the loop goroutine touches it.
type State struct {
	Mode config.Mode

	PerClass      bool
	FilterIdle    bool
	Numeric       bool
	AggregatePIDs bool
	Sort          procscan.SortKey

	// Help is set while the help screen replaces the normal frame.
	Help bool
	// Message is shown once on the next interactive frame.
	Message string
}

func newState(mode config.Mode) State {
	return State{
		Mode:       mode,
		FilterIdle: mode == config.ModeInteractive,
	}
}

// HandleKey applies one keystroke and reports whether the user asked to quit.
func (s *State) HandleKey(key byte) (quit bool) {
	if s.Help {
		if key == 'h' || key == 'q' {
			s.Help = false
		}
		return false
	}

	switch key {
	case 'q':
		return true
	case '1':
		s.PerClass = !s.PerClass
		if s.PerClass {
			s.Message = "Aggregating engine classes."
		} else {
			s.Message = "Showing physical engines."
		}
	case 'i':
		s.FilterIdle = !s.FilterIdle
		if s.FilterIdle {
			s.Message = "Hiding inactive clients."
		} else {
			s.Message = "Showing inactive clients."
		}
	case 'n':
		s.Numeric = !s.Numeric
		if s.Numeric {
			s.Message = "Showing numeric client busyness."
		} else {
			s.Message = "Hiding numeric client busyness."
		}
	case 's':
		s.Sort = s.Sort.Next(s.AggregatePIDs)
		s.Message = "Sorting clients by " + s.Sort.String() + "."
	case 'H':
		s.AggregatePIDs = !s.AggregatePIDs
		if s.AggregatePIDs {
			s.Message = "Aggregating clients per process."
			if s.Sort == procscan.SortClientID {
				s.Sort = s.Sort.Next(true)
			}
		} else {
			s.Message = "Showing individual clients."
		}
	case 'h':
		s.Help = true
	}
	return false
}

// displayOptions maps the toggles onto the client table view.
func (s *State) displayOptions() procscan.DisplayOptions {
	return procscan.DisplayOptions{
		Sort:          s.Sort,
		AggregatePIDs: s.AggregatePIDs,
		FilterIdle:    s.FilterIdle,
	}
}

// takeMessage returns the pending one-shot message and clears it.
func (s *State) takeMessage() string {
	msg := s.Message
	s.Message = ""
	return msg
}
