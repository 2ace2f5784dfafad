package session

// Message types sent from the controller to the session worker.
const (
	reqInitiateLogin = "initiate_login"
	reqPamResponse   = "pam_response"
	reqCancel        = "cancel"
	reqArgs          = "args"
	reqStart         = "start"
)

// Message types sent from the session worker to the controller.
const (
	replyPamMessage    = "pam_message"
	replySuccess       = "success"
	replyError         = "error"
	replyFinalChildPid = "final_child_pid"
)

// QuestionStyle describes how an authentication prompt should be presented.
type QuestionStyle string

const (
	StyleVisible QuestionStyle = "visible" // prompt with echoed input
	StyleSecret  QuestionStyle = "secret"  // prompt with hidden input
	StyleInfo    QuestionStyle = "info"    // informational message, no answer
	StyleError   QuestionStyle = "error"   // error message, no answer
)

// Request is a control message from the session controller to the worker.
// The Type field selects the variant; only the fields belonging to that
// variant are populated.
type Request struct {
	Type string `json:"type"`

	// InitiateLogin fields
	Service      string `json:"service,omitempty"`
	Class        string `json:"class,omitempty"`
	User         string `json:"user,omitempty"`
	Authenticate bool   `json:"authenticate,omitempty"`

	// PamResponse field
	Resp string `json:"resp,omitempty"`

	// Args fields
	Cmd []string `json:"cmd,omitempty"`
	Env []string `json:"env,omitempty"`
	VT  int      `json:"vt,omitempty"`
}

// Reply is a message from the worker resolving the controller's last
// request.
type Reply struct {
	Type string `json:"type"`

	// PamMessage fields
	Style QuestionStyle `json:"style,omitempty"`
	Msg   string        `json:"msg,omitempty"`

	// Error field
	Error string `json:"error,omitempty"`

	// FinalChildPid field
	Pid int `json:"pid,omitempty"`
}
