package protocol

var TimestampInputFormat = "2006-01-02T15:04:05.9999999Z07:00"  // allow to omit fractional seconds
var TimestampOutputFormat = "2006-01-02T15:04:05.0000000Z07:00" // dotnet "O"

type IDTokenResponse struct {
	Value string `json:"value"`
}

type AudienceResponse struct {
	Audience string `json:"audience"`
}

type MintTokenRequest struct {
	Token string `json:"token"`
}

type MintTokenError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type MintTokenResponse struct {
	Success bool             `json:"success"`
	Token   string           `json:"token"`
	Message string           `json:"message,omitempty"`
	Errors  []MintTokenError `json:"errors,omitempty"`
}

type StepSummary struct {
	RefName string `json:"ref_name"`
	Name    string `json:"name"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
	Log     string `json:"log,omitempty"`
}

type RunSummary struct {
	RunID     string        `json:"run_id"`
	Tag       string        `json:"tag"`
	Version   string        `json:"version"`
	Result    string        `json:"result"`
	Steps     []StepSummary `json:"steps"`
	Artifacts []string      `json:"artifacts,omitempty"`
	Published []string      `json:"published,omitempty"`
	Archived  []string      `json:"archived,omitempty"`
}
