package common

//go:generate enumer -json -sql -type Status -trimprefix Status

type Status int

const (
	StatusNEW Status = iota
	StatusPENDING
	StatusDONE
	StatusFAILED
	StatusRETRY
)

// Terminal returns true if the status is final (the job will not be scheduled again)
func (s Status) Terminal() bool {
	return s == StatusDONE || s == StatusFAILED
}
