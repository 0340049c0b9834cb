package domain

// TriggerDefinition is a trigger as described by an external source, before
// it is registered. Expression is in the 5-field dialect.
type TriggerDefinition struct {
	ID         string     `json:"id" yaml:"id"`
	Expression string     `json:"cron" yaml:"cron"`
	Payload    JobPayload `json:"payload" yaml:",inline"`
	Disabled   bool       `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}
