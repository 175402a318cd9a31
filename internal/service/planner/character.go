package planner

import (
	"errors"
	"fmt"
	"strings"
)

// Character 标识对话中的一个角色。
type Character string

const (
	Bob      Character = "bob"
	Niki     Character = "niki"
	Lindsay  Character = "lindsay"
	Ross     Character = "ross"
	Michelle Character = "michelle"
	Mary     Character = "mary"
	Ben      Character = "ben"
	Ana      Character = "ana"
	Tom      Character = "tom"
	Mia      Character = "mia"

	// Julie is the virtual evacuation agent.
	Julie Character = "julie"
)

// ErrUnknownCharacter is returned by ParseCharacter.
var ErrUnknownCharacter = errors.New("unknown character")

var townPeople = []Character{Bob, Niki, Lindsay, Ross, Michelle, Mary, Ben, Ana, Tom, Mia}

// TownPeople returns every town person in a stable order.
func TownPeople() []Character {
	return append([]Character(nil), townPeople...)
}

// ScriptedTownPeople 是拥有示例台词库的角色。
func ScriptedTownPeople() []Character {
	return []Character{Bob, Niki, Lindsay, Ross, Michelle}
}

// ParseCharacter 不区分大小写地解析角色名。
func ParseCharacter(name string) (Character, error) {
	c := Character(strings.ToLower(strings.TrimSpace(name)))
	if c == Julie {
		return c, nil
	}
	for _, p := range townPeople {
		if p == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCharacter, name)
}

// ParseTownPerson is ParseCharacter restricted to town people; the agent
// is rejected with ErrUnknownCharacter.
func ParseTownPerson(name string) (Character, error) {
	c, err := ParseCharacter(name)
	if err != nil {
		return "", err
	}
	if c == Julie {
		return "", fmt.Errorf("%w: %q is not a town person", ErrUnknownCharacter, name)
	}
	return c, nil
}

// DisplayName returns the capitalised name used in prompts and transcripts.
func (c Character) DisplayName() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

func (c Character) String() string { return string(c) }
