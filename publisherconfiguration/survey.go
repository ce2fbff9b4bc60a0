package publisherconfiguration

type Survey interface {
	GetInput(prompt string, def string) string
	GetSelectInput(prompt string, options []string, def string) string
	GetConfirm(prompt string, def bool) bool
}
