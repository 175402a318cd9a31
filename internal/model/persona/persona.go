package persona

import (
	"errors"
	"fmt"
)

// Persona 是一个镇民角色的背景设定，Name 为小写唯一键。
type Persona struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"persona" yaml:"persona"`
}

// ErrConfiguration marks persona or script entries that could not be loaded.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError 描述某个角色的配置缺失或格式错误，只影响该角色。
type ConfigurationError struct {
	Source    string
	Character string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Character == "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("%s: character %q: %s", e.Source, e.Character, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Seed provides a small fixed persona set for tests and local runs.
func Seed() []Persona {
	return []Persona{
		{Name: "bob", Description: "Bob is a contractor who refuses to leave his workshop in the middle of a big order."},
		{Name: "niki", Description: "Niki is a nurse who just woke up after a night shift and has not heard about the fire."},
		{Name: "lindsay", Description: "Lindsay is a college student babysitting two young children whose parents are at work."},
		{Name: "ross", Description: "Ross is an elderly man who uses a walker and cannot drive."},
		{Name: "michelle", Description: "Michelle is a homeowner who has stayed through every previous fire season."},
		{Name: "mary", Description: "Mary is a widow who does not want to leave her animals."},
	}
}
