package feedback

// PollingState is the observable state of one polling session.
type PollingState struct {
	Loading        bool     `json:"loading"`
	Error          bool     `json:"error"`
	DataReceived   bool     `json:"dataReceived"`
	Profile        *Profile `json:"profile,omitempty"`
	RetryCount     int      `json:"retryCount"`
	EndpointStatus int      `json:"endpointStatus,omitempty"`
}

// InitialPollingState is the state before the first attempt completes.
func InitialPollingState() PollingState {
	return PollingState{Loading: true}
}

// Terminal reports whether polling has stopped producing changes.
func (s PollingState) Terminal() bool {
	return !s.Loading
}

// View is what a presentation layer should render.
type View string

const (
	ViewLoading View = "loading"
	ViewError   View = "error"
	ViewNoData  View = "no_data"
	ViewReady   View = "ready"
)

// Status is the presentation contract exposed to views.
type Status struct {
	URL            string   `json:"url,omitempty"`
	IsLoading      bool     `json:"isLoading"`
	IsError        bool     `json:"isError"`
	Profile        *Profile `json:"profile"`
	DataReceived   bool     `json:"dataReceived"`
	RetryCount     int      `json:"retryCount"`
	EndpointStatus *int     `json:"endpointStatus"`
	Message        string   `json:"message,omitempty"`
	View           View     `json:"view"`
}

// Resolve picks the view: loading, then error, then no data, then ready.
func (s Status) Resolve() View {
	switch {
	case s.IsLoading:
		return ViewLoading
	case s.IsError:
		return ViewError
	case !s.DataReceived || s.Profile == nil:
		return ViewNoData
	default:
		return ViewReady
	}
}
