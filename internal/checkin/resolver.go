package checkin

// Action is the single primary action offered for a scan result.
type Action string

const (
	ActionCheckIn      Action = "checkin"
	ActionCheckOut     Action = "checkout"
	ActionRegister     Action = "register"
	ActionAcceptWaiver Action = "accept_waiver"
	ActionRetry        Action = "retry"
)

// Dialog is the dialog a scan result opens, if any.
type Dialog string

const (
	DialogNone         Dialog = ""
	DialogRegistration Dialog = "registration"
	DialogWaiver       Dialog = "waiver"
)

// Color is the accent a view is rendered with.
type Color string

const (
	ColorGreen  Color = "green"
	ColorOrange Color = "orange"
	ColorBlue   Color = "blue"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// RegistrationFields are collected by the registration dialog, in order.
var RegistrationFields = []string{"child_name", "child_dob", "guardian_name", "guardian_phone"}

// View is a scan result resolved for presentation.
type View struct {
	Status          Status     `json:"status"`
	Message         string     `json:"message"`
	Label           string     `json:"label"`
	Color           Color      `json:"color"`
	Dialog          Dialog     `json:"dialog,omitempty"`
	Action          Action     `json:"action"`
	SessionID       string     `json:"session_id,omitempty"`
	UseSubscription bool       `json:"use_subscription,omitempty"`
	Fields          []string   `json:"fields,omitempty"`
	Result          ScanResult `json:"result"`
}

// Resolve maps a scan result to its view. It has no side effects; the desk
// flow performs whatever the chosen action requires.
func Resolve(result ScanResult) View {
	view := View{
		Status:  result.Status,
		Message: result.Message,
		Result:  result,
	}

	switch result.Status {
	case StatusReadyToCheckIn:
		view.Action = ActionCheckIn
		if result.HasSubscription {
			view.UseSubscription = true
			view.Label = "Check in with subscription"
			view.Color = ColorYellow
		} else {
			view.Label = "Check in (hourly)"
			view.Color = ColorGreen
		}

	case StatusAlreadyCheckedIn:
		if result.ActiveSession == nil || result.ActiveSession.SessionID == "" {
			return errorView(result, "Card is checked in but no active session was returned")
		}
		view.Action = ActionCheckOut
		view.SessionID = result.ActiveSession.SessionID
		view.Label = "Check out"
		view.Color = ColorOrange

	case StatusNewCard:
		view.Action = ActionRegister
		view.Dialog = DialogRegistration
		view.Fields = append([]string(nil), RegistrationFields...)
		view.Label = "Register new customer"
		view.Color = ColorBlue

	case StatusWaiverRequired:
		view.Action = ActionAcceptWaiver
		view.Dialog = DialogWaiver
		view.Label = "Accept waiver"
		view.Color = ColorOrange

	case StatusError:
		return errorView(result, result.Message)

	default:
		return errorView(result, "unknown scan status "+string(result.Status))
	}

	return view
}

func errorView(result ScanResult, message string) View {
	if message == "" {
		message = "Scan failed"
	}
	result.Status = StatusError
	result.Message = message
	result.ActiveSession = nil

	return View{
		Status:  StatusError,
		Message: message,
		Label:   "Retry",
		Color:   ColorRed,
		Action:  ActionRetry,
		Result:  result,
	}
}
