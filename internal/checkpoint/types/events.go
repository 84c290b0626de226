package types

// Server → client event names.
const (
	EventConnected            = "connected"
	EventSystemStatus         = "system_status"
	EventInteraction          = "interaction"
	EventEnrollmentRequest    = "enrollment_request"
	EventEnrollmentCapture    = "enrollment_capture"
	EventEnrollmentStatus     = "enrollment_status"
	EventEnrollmentSuccess    = "enrollment_success"
	EventEnrollmentError      = "enrollment_error"
	EventAskUserAction        = "ask_user_action"
	EventUserCheckedIn        = "user_checked_in"
	EventResetUI              = "reset_ui"
	EventAdminCardScanRequest = "admin_card_scan_request"
	EventAdminAuthenticated   = "admin_authenticated"
	EventVideoFrame           = "video_frame"
)

// Client → server event names.
const (
	EventUserAction              = "user_action"
	EventAdminLoginRequest       = "admin_login_request"
	EventAdminLoginCancel        = "admin_login_cancel"
	EventEnrollmentCancel        = "enrollment_cancel"
	EventEnrollmentNameSubmitted = "enrollment_name_submitted"
)

const (
	CheckInEntry  = "entry"
	CheckInReturn = "return"

	UserActionBreak = "break"
	UserActionLeave = "leave"
)

type Connected struct {
	SessionID string `json:"session_id"`
}

type SystemStatus struct {
	Active bool `json:"active"`
}

type Interaction struct {
	Msg string `json:"msg"`
}

type EnrollmentRequest struct {
	CardID  string `json:"card_id"`
	Message string `json:"message"`
}

// EnrollmentNotice carries enrollment_capture/status/success/error.
type EnrollmentNotice struct {
	Message string `json:"message"`
	CardID  string `json:"card_id,omitempty"`
}

type AskUserAction struct {
	Name   string `json:"name"`
	CardID string `json:"card_id"`
}

type UserCheckedIn struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Msg    string `json:"msg"`
}

type AdminCardScanRequest struct {
	Message string `json:"message"`
}

type AdminAuthenticated struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

type VideoFrame struct {
	Image  string `json:"image"`
	Status string `json:"status,omitempty"`
}

type UserAction struct {
	Action string `json:"action"`
	CardID string `json:"card_id"`
}

type EnrollmentNameSubmitted struct {
	Name   string `json:"name"`
	CardID string `json:"card_id"`
}
