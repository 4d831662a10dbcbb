package task

// Event drives a transition of the state machine (§4.3).
type Event uint8

const (
	EventStart Event = iota
	EventPauseUser
	EventResume
	EventStopUser
	EventRemove
	EventRunOK
	EventRunErr
	EventNetOff
	EventNetTypeBad
	EventAppBgTimeout
	EventAcctInactive
	EventSchedAdmit
	EventSchedReject
)

// Action is the net effect of a transition: a target state (and, unless
// ReasonDefault, a reason). Ignore=true means the event does not move the
// task (the table's "—" cells).
type Action struct {
	Target State
	Reason Reason
	Ignore bool
}

func ignore() Action { return Action{Ignore: true} }

func to(s State, r Reason) Action { return Action{Target: s, Reason: r} }

// Kind distinguishes downloads from uploads for the transition table: only a
// download can leave Failed/Stopped on a plain `start` (§4.3 rule).
type Kind uint8

const (
	KindDownload Kind = iota
	KindUpload
)

// Next resolves the transition table for a given current state, event, task
// kind (download/upload — only relevant for the Failed/Stopped restart
// rule), and a retry decision (only consulted on EventRunErr).
func Next(current State, ev Event, kind Kind, retryEligible bool, errReason Reason) (Action, bool) {
	switch current {
	case Initialized:
		switch ev {
		case EventStart:
			return to(Waiting, ReasonDefault), true
		case EventStopUser:
			return to(Stopped, ReasonUserOperation), true
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		case EventSchedAdmit:
			return to(Running, ReasonDefault), true
		case EventSchedReject:
			return to(Waiting, ReasonRunningTaskMeetLimits), true
		}
	case Waiting:
		switch ev {
		case EventPauseUser:
			return to(Paused, ReasonUserOperation), true
		case EventStopUser:
			return to(Stopped, ReasonUserOperation), true
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		case EventNetOff:
			return to(Waiting, ReasonNetworkOffline), true
		case EventNetTypeBad:
			return to(Waiting, ReasonUnsupportedNetworkType), true
		case EventAppBgTimeout:
			return to(Waiting, ReasonAppBackgroundOrTerminate), true
		case EventAcctInactive:
			return to(Waiting, ReasonAccountStopped), true
		case EventSchedAdmit:
			return to(Running, ReasonDefault), true
		}
	case Running:
		switch ev {
		case EventPauseUser:
			return to(Paused, ReasonUserOperation), true
		case EventStopUser:
			return to(Stopped, ReasonUserOperation), true
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		case EventRunOK:
			return to(Completed, ReasonDefault), true
		case EventRunErr:
			if retryEligible {
				return to(Retrying, errReason), true
			}
			return to(Failed, errReason), true
		case EventNetOff:
			return to(Retrying, ReasonNetworkOffline), true
		case EventNetTypeBad:
			return to(Waiting, ReasonUnsupportedNetworkType), true
		case EventAppBgTimeout:
			return to(Paused, ReasonAppBackgroundOrTerminate), true
		case EventAcctInactive:
			return to(Waiting, ReasonAccountStopped), true
		}
	case Retrying:
		switch ev {
		case EventPauseUser:
			return to(Paused, ReasonUserOperation), true
		case EventStopUser:
			return to(Stopped, ReasonUserOperation), true
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		case EventRunOK:
			return to(Completed, ReasonDefault), true
		case EventRunErr:
			return to(Failed, errReason), true
		case EventNetOff:
			return to(Waiting, ReasonNetworkOffline), true
		case EventNetTypeBad:
			return to(Waiting, ReasonUnsupportedNetworkType), true
		case EventAppBgTimeout:
			return to(Paused, ReasonAppBackgroundOrTerminate), true
		case EventAcctInactive:
			return to(Waiting, ReasonAccountStopped), true
		case EventSchedAdmit:
			return to(Running, ReasonDefault), true
		}
	case Paused:
		switch ev {
		case EventResume:
			return to(Waiting, ReasonDefault), true
		case EventStopUser:
			return to(Stopped, ReasonUserOperation), true
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		}
	case Stopped:
		switch ev {
		case EventStart:
			if kind == KindDownload {
				return to(Waiting, ReasonDefault), true
			}
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		}
	case Failed:
		switch ev {
		case EventStart:
			if kind == KindDownload {
				return to(Waiting, ReasonDefault), true
			}
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		}
	case Completed:
		switch ev {
		case EventRemove:
			return to(Removed, ReasonUserOperation), true
		}
	case Removed:
		return Action{}, false
	}
	return ignore(), true
}
